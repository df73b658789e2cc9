package packet

func (p *Pacer) SetFirst(seq int32) {
	p.first = seq
}
