package fixtures_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/opal-lang/scriptengine/internal/compiler"
	fixtures "github.com/opal-lang/scriptengine/testing"
)

func TestVarDeclBuilderCompiles(t *testing.T) {
	t.Parallel()

	prog := fixtures.Program(fixtures.VarDecl("answer", fixtures.Number(42)))
	ck, err := compiler.Compile(prog)
	require.NoError(t, err)
	require.NotNil(t, ck)
}
