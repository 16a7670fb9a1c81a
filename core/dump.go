package core

import (
	"math"
	"strconv"
	"strings"
)

// DumpOptions configures the output of Dump.
type DumpOptions func(*dumpOptions)

// DumpWithPrecision sets the number of decimal places printed per element.
func DumpWithPrecision(n int) DumpOptions {
	return func(opts *dumpOptions) {
		opts.Precision = n
	}
}

// DumpWithThreshold sets the element count up to which the whole tensor is
// printed. Larger tensors are elided to their edge items along every axis.
func DumpWithThreshold(n int) DumpOptions {
	return func(opts *dumpOptions) {
		opts.Threshold = n
	}
}

// DumpWithEdgeItems sets how many leading and trailing items per axis are kept
// when a tensor is elided.
func DumpWithEdgeItems(n int) DumpOptions {
	return func(opts *dumpOptions) {
		opts.EdgeItems = n
	}
}

type dumpOptions struct {
	Precision, Threshold, EdgeItems int
}

// Dump renders t in nested-bracket form for debug logs.
func Dump(t *Tensor, optsFuncs ...DumpOptions) string {
	opts := dumpOptions{Precision: 4, Threshold: 1000, EdgeItems: 3}
	for _, optsFunc := range optsFuncs {
		optsFunc(&opts)
	}

	if t.TotalElems() <= opts.Threshold {
		opts.EdgeItems = math.MaxInt
	}

	if t.NDim == 0 {
		return strconv.FormatFloat(t.Data[0], 'f', opts.Precision, 64)
	}

	var sb strings.Builder
	var f func(axis int, offset int64)
	f = func(axis int, offset int64) {
		n := t.Shape[axis]
		items := int64(opts.EdgeItems)
		prefix := strings.Repeat(" ", axis+1)

		sb.WriteString("[")
		for i := int64(0); i < n; i++ {
			if i >= items && i < n-items {
				sb.WriteString("...")
				i = n - items - 1
			} else if axis < t.NDim-1 {
				f(axis+1, offset+i*t.Stride[axis])
			} else {
				text := strconv.FormatFloat(t.Data[offset+i*t.Stride[axis]], 'f', opts.Precision, 64)
				if text[0] != '-' {
					sb.WriteString(" ")
				}
				sb.WriteString(text)
			}

			if i < n-1 {
				sb.WriteString(",")
				if axis < t.NDim-1 {
					sb.WriteString(strings.Repeat("\n", t.NDim-1-axis))
					sb.WriteString(prefix)
				} else {
					sb.WriteString(" ")
				}
			}
		}
		sb.WriteString("]")
	}
	f(0, 0)

	return sb.String()
}
