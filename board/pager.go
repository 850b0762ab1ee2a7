package board

import "prism-board/domain"

const DefaultPageSize = 10

// Pager tracks the current page of each column. It is a view over bucket
// order and holds no items itself. Not safe for concurrent use; the Engine
// guards it.
type Pager struct {
	size  int
	pages map[domain.Status]int
}

func NewPager(size int) *Pager {
	if size <= 0 {
		size = DefaultPageSize
	}
	return &Pager{size: size, pages: make(map[domain.Status]int)}
}

func (p *Pager) Size() int { return p.size }

// PageCount is max(1, ceil(count/size)).
func (p *Pager) PageCount(count int) int {
	if count <= 0 {
		return 1
	}
	return (count + p.size - 1) / p.size
}

func (p *Pager) Page(st domain.Status) int {
	if n, ok := p.pages[st]; ok {
		return n
	}
	return 1
}

// Set moves st to page, clamped for a column of count items, and returns
// the page actually selected.
func (p *Pager) Set(st domain.Status, page, count int) int {
	page = max(1, min(page, p.PageCount(count)))
	p.pages[st] = page
	return page
}

// Clamp pulls the current page of st back into range after the column
// shrank.
func (p *Pager) Clamp(st domain.Status, count int) {
	p.Set(st, p.Page(st), count)
}

func (p *Pager) Reset(st domain.Status) { p.pages[st] = 1 }

func (p *Pager) save() map[domain.Status]int {
	out := make(map[domain.Status]int, len(p.pages))
	for st, n := range p.pages {
		out[st] = n
	}
	return out
}

func (p *Pager) restore(pages map[domain.Status]int) { p.pages = pages }

// Window returns the items shown on page (1-based).
func (p *Pager) Window(items []domain.Task, page int) []domain.Task {
	start := (page - 1) * p.size
	if start < 0 || start >= len(items) {
		return []domain.Task{}
	}
	end := min(start+p.size, len(items))
	out := make([]domain.Task, end-start)
	for i, t := range items[start:end] {
		out[i] = t.Clone()
	}
	return out
}

// PageOf returns the page holding index i.
func (p *Pager) PageOf(i int) int {
	if i < 0 {
		return 1
	}
	return i/p.size + 1
}
