package rtti

import (
	"strings"

	"github.com/apex/log"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/ianlancetaylor/demangle"
)

// DefaultDemangleCacheSize is the LRU size used by Demangle.
const DefaultDemangleCacheSize = 4096

// Demangler turns mangled type names into source form, memoising results.
type Demangler struct {
	cache *lru.Cache[string, string]
}

// NewDemangler returns a Demangler remembering up to size names.
func NewDemangler(size int) *Demangler {
	if size <= 0 {
		size = DefaultDemangleCacheSize
	}
	cache, err := lru.New[string, string](size)
	if err != nil {
		log.WithError(err).Fatal("failed to create demangle cache")
	}
	return &Demangler{cache: cache}
}

var defaultDemangler = NewDemangler(DefaultDemangleCacheSize)

// Demangle demangles name with a shared Demangler.
func Demangle(name string) string {
	return defaultDemangler.Demangle(name)
}

// Demangle handles MSVC type-descriptor names (".?AV...") and Itanium names
// (both "_Z" symbols and bare type-info strings like "N3foo3BarE"). Anything
// it does not recognise comes back unchanged.
func (d *Demangler) Demangle(name string) string {
	if out, ok := d.cache.Get(name); ok {
		return out
	}
	out := demangleName(name)
	d.cache.Add(name, out)
	return out
}

// Len returns the number of memoised names.
func (d *Demangler) Len() int { return d.cache.Len() }

func demangleName(name string) string {
	if strings.HasPrefix(name, ".?A") {
		if out, err := demangleMSVC(name); err == nil {
			return out
		}
		return name
	}
	if out, ok := demangleItanium(name); ok {
		return out
	}
	return name
}

const typeinfoName = "typeinfo name for "

func demangleItanium(name string) (string, bool) {
	if strings.HasPrefix(name, "_Z") || strings.HasPrefix(name, "___Z") {
		out, err := demangle.ToString(name, demangle.NoClones)
		return out, err == nil
	}
	if !looksLikeItaniumType(name) {
		return "", false
	}
	out, err := demangle.ToString("_ZTS"+name, demangle.NoClones)
	if err != nil {
		return "", false
	}
	return strings.TrimPrefix(out, typeinfoName), true
}

// looksLikeItaniumType accepts <source-name> ("3Foo") and nested names
// ("N3foo3BarE", "NSt3__16vectorIiEE").
func looksLikeItaniumType(name string) bool {
	if name == "" {
		return false
	}
	if c := name[0]; c >= '1' && c <= '9' {
		return true
	}
	return strings.HasPrefix(name, "N") && len(name) > 2 && strings.HasSuffix(name, "E")
}
