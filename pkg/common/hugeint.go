package common

import (
	"fmt"
)

type Hugeint struct {
	Lower uint64
	Upper int64
}

func (h Hugeint) String() string {
	return fmt.Sprintf("[%d %d]", h.Upper, h.Lower)
}

func (h *Hugeint) Equal(o *Hugeint) bool {
	return h.Lower == o.Lower && h.Upper == o.Upper
}

func (h *Hugeint) Less(o *Hugeint) bool {
	if h.Upper != o.Upper {
		return h.Upper < o.Upper
	}
	return h.Lower < o.Lower
}
