// Package dicom writes CT volumes as DICOM Part 10 series, one file per
// axial slice, and reads such series back. Files are written in explicit VR
// little endian with uncompressed 16-bit pixel data.
package dicom

import (
	"fmt"
	"slices"
	"strconv"

	dcm "github.com/suyashkumar/dicom"
	"github.com/suyashkumar/dicom/pkg/tag"
)

const (
	CTImageStorage         = "1.2.840.10008.5.1.4.1.1.2"
	ExplicitVRLittleEndian = "1.2.840.10008.1.2.1"
	ImplementationClassUID = "2.25.302347781358813434765012372411617563437"
	ImplementationVersion  = "CTSLICES_1"
)

// elementList collects data elements and keeps the first construction error
type elementList struct {
	elems []*dcm.Element
	err   error
}

func (l *elementList) add(t tag.Tag, value any) {
	if l.err != nil {
		return
	}
	el, err := dcm.NewElement(t, value)
	if err != nil {
		l.err = fmt.Errorf("element %v: %w", t, err)
		return
	}
	l.elems = append(l.elems, el)
}

func (l *elementList) str(t tag.Tag, values ...string) {
	l.add(t, values)
}

func (l *elementList) ints(t tag.Tag, values ...int) {
	l.add(t, values)
}

// decimals adds a DS element
func (l *elementList) decimals(t tag.Tag, values ...float64) {
	parts := make([]string, len(values))
	for i, v := range values {
		parts[i] = strconv.FormatFloat(v, 'f', -1, 64)
	}
	l.add(t, parts)
}

// integers adds an IS element
func (l *elementList) integers(t tag.Tag, values ...int) {
	parts := make([]string, len(values))
	for i, v := range values {
		parts[i] = strconv.Itoa(v)
	}
	l.add(t, parts)
}

// dataset returns the collected elements in ascending tag order
func (l *elementList) dataset() (dcm.Dataset, error) {
	if l.err != nil {
		return dcm.Dataset{}, l.err
	}
	elems := slices.Clone(l.elems)
	slices.SortStableFunc(elems, func(a, b *dcm.Element) int {
		if a.Tag.Group != b.Tag.Group {
			return int(a.Tag.Group) - int(b.Tag.Group)
		}
		return int(a.Tag.Element) - int(b.Tag.Element)
	})
	return dcm.Dataset{Elements: elems}, nil
}

func (l *elementList) clone() *elementList {
	return &elementList{elems: slices.Clone(l.elems), err: l.err}
}
