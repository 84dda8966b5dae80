package interaction

// viewport remembers a scroll offset across a mutation's re-render. A manual
// scroll in the meantime abandons the restore.
type viewport struct {
	offset    int
	captured  bool
	abandoned bool
}

func (v *viewport) capture(offset int) {
	*v = viewport{offset: offset, captured: true}
}

func (v *viewport) scrolled(offset int) {
	if v.captured && offset != v.offset {
		v.abandoned = true
	}
}

// settle returns the offset to restore, at most once per capture.
func (v *viewport) settle() (int, bool) {
	off, ok := v.offset, v.captured && !v.abandoned
	*v = viewport{}
	return off, ok
}

// CaptureScroll records the list's scroll offset before a mutation.
func (b *Board) CaptureScroll(offset int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.scroll.capture(offset)
}

// UserScrolled reports a scroll the user made. Any movement away from the
// captured offset cancels the pending restore.
func (b *Board) UserScrolled(offset int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.scroll.scrolled(offset)
}

// SettleScroll is called once the post-mutation render has settled. It
// returns the offset to scroll back to, if any.
func (b *Board) SettleScroll() (int, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.scroll.settle()
}
