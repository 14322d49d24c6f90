// Package resolver computes the set of object files an application image
// needs: starting from forced undefines and the cache's own references, it
// walks definitions across archive members, honoring base-image precedence
// and weak-symbol semantics.
package resolver

import (
	"github.com/rapld/rapld/pkg/ld"
	"github.com/rapld/rapld/pkg/ld/files"
	"github.com/rapld/rapld/pkg/ld/symbols"
	"golang.org/x/exp/slices"
)

// Resolve returns the ordered, deduplicated list of dependent objects
// required to satisfy every unresolved reference. Base symbols resolve
// references without pulling anything in; cache globals win over cache
// weaks; a strong reference with no definition anywhere is fatal.
func Resolve(ctx *ld.Context, cache *files.Cache, base, syms *symbols.Table,
	undefined symbols.Symtab) ([]*files.Object, error) {

	r := &resolver{
		ctx:   ctx,
		cache: cache,
		base:  base,
		syms:  syms,
	}

	// Forced undefines first: the entry point and any user-forced names.
	if err := r.resolveSymbols(undefined, "undefines"); err != nil {
		return nil, err
	}

	for _, obj := range cache.Objects() {
		ctx.Log(ld.VerboseInfo, "resolver: resolving top", "object", obj.BaseName())
		if err := r.resolveSymbols(obj.UnresolvedSymbols(), obj.FullName()); err != nil {
			return nil, err
		}
	}

	return r.dependents, nil
}

type resolver struct {
	ctx        *ld.Context
	cache      *files.Cache
	base       *symbols.Table
	syms       *symbols.Table
	dependents []*files.Object
	nesting    int
}

func (r *resolver) resolveSymbols(unresolved symbols.Symtab, fullname string) error {
	r.nesting++
	defer func() { r.nesting-- }()

	// The owner's state flags are the cycle break: an object already on
	// the recursion stack, or done, is never walked again.
	owner := r.cache.FindObject(fullname)
	if owner != nil {
		if owner.Resolved() || owner.Resolving() {
			r.ctx.Log(ld.VerboseInfo, "resolver: already resolved or resolving",
				"object", owner.BaseName(), "nesting", r.nesting)
			return nil
		}
		owner.ResolveSet()
	}

	r.ctx.Log(ld.VerboseInfo, "resolver: resolving",
		"name", fullname, "unresolved", len(unresolved), "nesting", r.nesting)

	var pending []*files.Object

	for _, name := range unresolved.Names() {
		urs := unresolved[name]

		// A strong reference another pass already bound needs no work;
		// weak references are revisited so a later definition can win.
		if !urs.IsWeak() && urs.Object() != nil {
			continue
		}

		r.ctx.Log(ld.VerboseInfo, "resolver: resolve", "symbol", name)

		es := r.base.FindGlobal(name)
		base := true
		if es == nil {
			es = r.syms.FindGlobal(name)
			if es == nil {
				es = r.syms.FindWeak(name)
			}
			if es == nil {
				if urs.IsWeak() {
					// An undefined weak with no definition anywhere is
					// allowed; it stays unbound, with no object attached.
					continue
				}
				return ld.MakeError(ld.ErrUnresolvedSymbol, "resolver",
					"'%s' referenced in '%s'", name, fullname)
			}
			base = false
		}

		if r.ctx.Verbose(ld.VerboseInfo) {
			from := "base"
			if eobj, ok := es.Object().(*files.Object); ok {
				from = eobj.BaseName()
			}
			r.ctx.Log(ld.VerboseInfo, "resolver: resolved", "symbol", name, "from", from)
		}

		if !base {
			eobj, ok := es.Object().(*files.Object)
			if !ok {
				return ld.MakeError(ld.ErrUnresolvedSymbol, "resolver",
					"'%s' has no defining object", name)
			}
			urs.SetObject(eobj)
			if !eobj.Resolved() && !eobj.Resolving() && !slices.Contains(pending, eobj) {
				pending = append(pending, eobj)
			}
		}

		es.Referenced()
	}

	if owner != nil {
		owner.ResolveClear()
		owner.ResolvedSet()
	}

	// Merge before descending so the dependent list keeps discovery
	// order: a referencing object precedes the definitions it pulled in.
	for _, obj := range pending {
		if !slices.Contains(r.dependents, obj) {
			r.dependents = append(r.dependents, obj)
		}
	}

	for _, obj := range pending {
		r.ctx.Log(ld.VerboseInfo, "resolver: descending",
			"from", fullname, "to", obj.BaseName())
		if err := r.resolveSymbols(obj.UnresolvedSymbols(), obj.FullName()); err != nil {
			return err
		}
	}
	return nil
}
