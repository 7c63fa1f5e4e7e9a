package compiler

import "github.com/opal-lang/scriptengine/internal/engineerr"

func engineerrInternal() engineerr.Kind { return engineerr.KindInternal }

// asEngineErr adapts an error returned from a nested CompileFunction
// call (always a *engineerr.Error in practice, since that is the only
// error type this package produces) back into the ledger type.
func asEngineErr(err error) *engineerr.Error {
	if e, ok := err.(*engineerr.Error); ok {
		return e
	}
	return engineerr.Internal("%v", err)
}
