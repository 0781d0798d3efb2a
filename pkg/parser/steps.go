package parser

import (
	"github.com/ndisidore/inpdeck/pkg/catalog"
	"github.com/ndisidore/inpdeck/pkg/csmap"
	"github.com/ndisidore/inpdeck/pkg/deck"
)

// setBaseSteps links every *STEP to the general step whose end state it
// starts from. Perturbation steps never become a base. Each manifest child
// deck starts from the base of the manifest; with BASE STATE=YES the first
// child's last general step seeds the others.
func setBaseSteps(d *deck.Deck) {
	kw := d.Config.Catalog.Keywords
	var visit func(hs []deck.Handle, cur deck.Handle) deck.Handle
	visit = func(hs []deck.Handle, cur deck.Handle) deck.Handle {
		for _, h := range hs {
			b := d.Block(h)
			switch {
			case b == nil:
			case b.Is("step"):
				b.BaseStep = cur
				if len(b.Subs) == 0 {
					continue
				}
				proc := d.Block(b.Subs[0])
				if proc != nil && kw.In(catalog.GroupGeneralStep, proc.Name) &&
					!isPerturbation(b) && !isPerturbation(proc) {
					cur = h
				}
			case b.Is("manifest"):
				base := cur
				baseState := csmap.Normalize(b.ParamText("basestate")) == "yes"
				for i, ph := range b.Subs {
					child := d.Block(ph)
					if child == nil {
						continue
					}
					last := visit(child.Subs, base)
					if i == 0 && baseState {
						base = last
					}
				}
			default:
				cur = visit(b.Subs, cur)
			}
		}
		return cur
	}
	visit(d.Roots, deck.NoHandle)
}

func isPerturbation(b *deck.Block) bool {
	return b.HasParam("perturbation")
}
