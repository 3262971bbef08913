package codec

import "github.com/danmuck/simcircuit/internal/protocol/template"

// cursor is a position {block, instance, variable, offset} plus what is known
// about the current block's instance count.
type cursor struct {
	block      int
	instance   int
	variable   int
	offset     int
	count      int
	countKnown bool
	atEnd      bool
}

func (c *cursor) enterBlock(tmpl *template.Message, b int) {
	c.block, c.instance, c.variable = b, 0, 0
	c.count, c.countKnown = 0, false
	if b >= len(tmpl.Blocks) {
		c.atEnd = true
		return
	}
	c.atEnd = false
	if n, ok := tmpl.Blocks[b].FixedInstances(); ok {
		c.count, c.countKnown = n, true
	}
}

// setCount records a Variable block's instance count. An empty block is
// stepped over immediately.
func (c *cursor) setCount(tmpl *template.Message, n int) {
	c.count, c.countKnown = n, true
	if n == 0 {
		c.enterBlock(tmpl, c.block+1)
	}
}

// advance moves past the variable at the cursor.
func (c *cursor) advance(tmpl *template.Message) {
	c.variable++
	if c.variable < len(tmpl.Blocks[c.block].Variables) {
		return
	}
	c.variable = 0
	c.instance++
	if c.instance < c.count {
		return
	}
	c.enterBlock(tmpl, c.block+1)
}

func accepts(t template.VarType, accept []template.VarType) bool {
	for _, a := range accept {
		if t == a {
			return true
		}
	}
	return false
}
