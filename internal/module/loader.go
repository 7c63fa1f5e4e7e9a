// Package module implements the external collaborator spec.md §4.7
// describes but deliberately keeps out of the VM core: resolving an
// import specifier to source text (NeedImports/provide_module), and
// the host-fulfilled "order" protocol (pending-order markers and their
// backing promises). Neither concern touches bytecode dispatch; both
// are bookkeeping layered on top of the vm.VM/heap primitives exposed
// for exactly this purpose (vm.NewPromise/SettlePromise).
package module

import (
	"strings"
	"sync"

	"golang.org/x/mod/semver"
)

// ImportRequest mirrors vm.ImportRequest so callers that only import
// this package (e.g. a host-side module resolver under test) don't
// need to pull in internal/vm just to describe a specifier.
type ImportRequest struct {
	Specifier    string
	ResolvedPath string
	Importer     string
}

// Loader is the host-supplied module table: a specifier to source-text
// map, filled in by ProvideModule as the host answers NeedImports
// requests. It has no opinion on path resolution — ResolvedPath is
// whatever the host or engine computed; Loader only tracks by
// Specifier, the key spec.md's provide_module takes.
type Loader struct {
	mu      sync.RWMutex
	sources map[string]string
}

func NewLoader() *Loader {
	return &Loader{sources: make(map[string]string)}
}

// ProvideModule records source text for a specifier, rejecting a
// malformed optional "@x.y.z" version suffix up front (grounded on
// core/types/validation.go's semver custom-format validator: x/mod's
// semver.IsValid requires a leading "v", so a bare "1.2.3" suffix is
// normalized before validation).
func (l *Loader) ProvideModule(specifier, source string) error {
	if err := validateSpecifier(specifier); err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.sources[specifier] = source
	return nil
}

func (l *Loader) Get(specifier string) (string, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	s, ok := l.sources[specifier]
	return s, ok
}

// Outstanding filters requests down to the specifiers this loader has
// not yet received source for — what the engine still needs to report
// as NeedImports after a batch of ProvideModule calls.
func (l *Loader) Outstanding(requests []ImportRequest) []ImportRequest {
	var out []ImportRequest
	for _, r := range requests {
		if _, ok := l.Get(r.Specifier); !ok {
			out = append(out, r)
		}
	}
	return out
}

func validateSpecifier(specifier string) error {
	at := strings.LastIndex(specifier, "@")
	if at <= 0 {
		return nil
	}
	version := specifier[at+1:]
	if !strings.HasPrefix(version, "v") {
		version = "v" + version
	}
	if !semver.IsValid(version) {
		return &InvalidSpecifierError{Specifier: specifier}
	}
	return nil
}

// InvalidSpecifierError reports a version suffix that failed semver
// validation; kept as its own type (rather than fmt.Errorf) so a host
// can type-switch on it without string-matching the message.
type InvalidSpecifierError struct {
	Specifier string
}

func (e *InvalidSpecifierError) Error() string {
	return "module: invalid version suffix in specifier " + e.Specifier
}
