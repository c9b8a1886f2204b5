package chunk

type SelectVector struct {
	SelVec []int
}

func NewSelectVector(count int) *SelectVector {
	vec := &SelectVector{}
	vec.Init(count)
	return vec
}

func (svec *SelectVector) Invalid() bool {
	return len(svec.SelVec) == 0
}

func (svec *SelectVector) Init(cnt int) {
	svec.SelVec = make([]int, cnt)
}

func (svec *SelectVector) GetIndex(idx int) int {
	if svec.Invalid() {
		return idx
	}
	return svec.SelVec[idx]
}

func (svec *SelectVector) SetIndex(idx int, index int) {
	svec.SelVec[idx] = index
}

// IncrSelectVectorInPhyFormatFlat is the incremental selection:
// row i maps to index i.
func IncrSelectVectorInPhyFormatFlat() *SelectVector {
	return &SelectVector{}
}
