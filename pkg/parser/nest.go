package parser

import (
	"context"
	"fmt"
	"strings"

	"github.com/ndisidore/inpdeck/pkg/catalog"
)

// nest arranges the top-level blocks of one file into a tree. Blocks of the
// end group (*STEP, *PART, ...) open a scope closed by the matching *END
// keyword; keywords with a sub-block table collect the sub-keywords that
// follow them. With Organize off the blocks stay flat.
func (r *run) nest(ctx context.Context, name string, nodes []*node) ([]*node, error) {
	if !r.cfg.Organize {
		return nodes, nil
	}
	var (
		roots []*node
		stack []*node
	)
	for _, n := range nodes {
		kw := n.block.Name

		if opened, ok := r.closes(kw); ok {
			at, err := r.matchEnd(stack, opened)
			if err == nil {
				open := stack[at]
				open.subs = append(open.subs, n)
				stack = stack[:at]
				continue
			}
			err = fmt.Errorf("%s: %s: %w", name, where(n.block), err)
			if err := r.problem(ctx, err); err != nil {
				return nil, err
			}
		}

		for len(stack) > 0 {
			top := stack[len(stack)-1].block.Name
			if r.kw.In(catalog.GroupEnd, top) || r.kw.AllowsSub(top, kw) {
				break
			}
			stack = stack[:len(stack)-1]
		}
		if len(stack) > 0 {
			top := stack[len(stack)-1]
			top.subs = append(top.subs, n)
		} else {
			roots = append(roots, n)
		}

		if r.kw.In(catalog.GroupEnd, kw) || r.kw.HasSubs(kw) {
			stack = append(stack, n)
		}
	}
	return roots, nil
}

// closes reports the keyword an *END keyword closes.
func (r *run) closes(kw string) (string, bool) {
	rest, ok := strings.CutPrefix(kw, "end")
	if !ok || !r.kw.In(catalog.GroupEnd, rest) {
		return "", false
	}
	return rest, true
}

// matchEnd finds the open scope of keyword opened. Another open end-group
// scope above it means the *END does not match.
func (r *run) matchEnd(stack []*node, opened string) (int, error) {
	for i := len(stack) - 1; i >= 0; i-- {
		kw := stack[i].block.Name
		if kw == opened {
			return i, nil
		}
		if r.kw.In(catalog.GroupEnd, kw) {
			return -1, fmt.Errorf("%w: *%s open", ErrUnmatchedEnd, strings.ToUpper(kw))
		}
	}
	return -1, fmt.Errorf("%w: no open *%s", ErrUnmatchedEnd, strings.ToUpper(opened))
}
