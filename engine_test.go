package scriptengine_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opal-lang/scriptengine"
	"github.com/opal-lang/scriptengine/internal/module"
	"github.com/opal-lang/scriptengine/internal/value"
	fixtures "github.com/opal-lang/scriptengine/testing"
)

func TestPrepareRejectsInvalidSyntax(t *testing.T) {
	t.Parallel()

	eng := scriptengine.New()
	err := eng.Prepare("var = ;")
	assert.Error(t, err)
	assert.Equal(t, scriptengine.StateIdle, eng.State())
}

func TestRunCompletesSimpleProgram(t *testing.T) {
	t.Parallel()

	eng := scriptengine.New()
	require.NoError(t, eng.Prepare("var x = 1;"))

	_, err := eng.Run()
	require.NoError(t, err)
	assert.Equal(t, scriptengine.StateComplete, eng.State())
}

func TestGetExportReadsTopLevelBinding(t *testing.T) {
	t.Parallel()

	eng := scriptengine.New()
	require.NoError(t, eng.Prepare("var answer = 1;"))
	_, err := eng.Run()
	require.NoError(t, err)

	names := eng.GetExportNames()
	assert.Contains(t, names, "answer")
}

func TestOrderSyscallSuspendsAndResumesOnFulfill(t *testing.T) {
	t.Parallel()

	eng := scriptengine.New()
	require.NoError(t, eng.Prepare("var reply = __order__(42);"))

	res, err := eng.Run()
	require.NoError(t, err)
	assert.Equal(t, scriptengine.StateSuspendedForOrder, eng.State())
	require.Len(t, res.Pending, 1)
	assert.Equal(t, float64(42), res.Pending[0].Payload.Num())

	eng.FulfillOrders([]module.OrderResponse{
		{ID: res.Pending[0].ID, Value: value.Str("answered")},
	})

	_, err = eng.Run()
	require.NoError(t, err)
	assert.Equal(t, scriptengine.StateComplete, eng.State())
}

func TestFinallyRunsAndRethrowsWithoutCatch(t *testing.T) {
	t.Parallel()

	eng := scriptengine.New()
	require.NoError(t, eng.Prepare(`
var log = "";
function f() {
  try {
    log = log + "try,";
    throw "boom";
  } finally {
    log = log + "finally,";
  }
}
f();
`))

	_, err := eng.Run()
	assert.Error(t, err, "a catch-less try/finally must re-throw once finally has run")
	assert.Equal(t, scriptengine.StateErrored, eng.State())

	log, ok := eng.GetExport("log")
	require.True(t, ok)
	assert.Equal(t, "try,finally,", log.Str())
}

func TestFinallyRunsOnEarlyReturnWithoutSwallowingValue(t *testing.T) {
	t.Parallel()

	eng := scriptengine.New()
	require.NoError(t, eng.Prepare(`
var ran = false;
function f() {
  try {
    return "done";
  } finally {
    ran = true;
  }
}
var out = f();
`))

	_, err := eng.Run()
	require.NoError(t, err)
	assert.Equal(t, scriptengine.StateComplete, eng.State())

	out, ok := eng.GetExport("out")
	require.True(t, ok)
	assert.Equal(t, "done", out.Str())

	ran, ok := eng.GetExport("ran")
	require.True(t, ok)
	assert.True(t, ran.Bool())
}

func TestFinallyRunsOnBreakOutOfLoop(t *testing.T) {
	t.Parallel()

	eng := scriptengine.New()
	require.NoError(t, eng.Prepare(`
var log = "";
for (var i = 0; i < 3; i = i + 1) {
  try {
    if (i === 1) {
      log = log + "break;";
      break;
    }
    log = log + i + ",";
  } finally {
    log = log + "f" + i + ",";
  }
}
`))

	_, err := eng.Run()
	require.NoError(t, err)
	assert.Equal(t, scriptengine.StateComplete, eng.State())

	log, ok := eng.GetExport("log")
	require.True(t, ok)
	assert.Equal(t, "0,f0,break;f1,", log.Str())
}

func TestForLoopLetBindsFreshPerIteration(t *testing.T) {
	t.Parallel()

	eng := scriptengine.New()
	require.NoError(t, eng.Prepare(`
var closures = [];
for (let i = 0; i < 3; i = i + 1) {
  closures.push(function () { return i; });
}
var a = closures[0]();
var b = closures[1]();
var c = closures[2]();
`))

	_, err := eng.Run()
	require.NoError(t, err)
	assert.Equal(t, scriptengine.StateComplete, eng.State())

	a, ok := eng.GetExport("a")
	require.True(t, ok)
	b, ok := eng.GetExport("b")
	require.True(t, ok)
	c, ok := eng.GetExport("c")
	require.True(t, ok)
	assert.Equal(t, float64(0), a.Num())
	assert.Equal(t, float64(1), b.Num())
	assert.Equal(t, float64(2), c.Num())
}

func TestDirectEvalDeclarationsLeakIntoCallerScope(t *testing.T) {
	t.Parallel()

	eng := scriptengine.New()
	require.NoError(t, eng.Prepare(`
eval("var sum = 1 + 2;");
eval("var leaked = 'visible';");
`))

	_, err := eng.Run()
	require.NoError(t, err)
	assert.Equal(t, scriptengine.StateComplete, eng.State())

	sum, ok := eng.GetExport("sum")
	require.True(t, ok)
	assert.Equal(t, float64(3), sum.Num())

	leaked, ok := eng.GetExport("leaked")
	require.True(t, ok)
	assert.Equal(t, "visible", leaked.Str())
}

func TestGeneratorStartsLazilyAndYieldsInOrder(t *testing.T) {
	t.Parallel()

	eng := scriptengine.New()
	require.NoError(t, eng.Prepare(fixtures.GeneratorYieldsThreeValues))

	_, err := eng.Run()
	require.NoError(t, err)
	assert.Equal(t, scriptengine.StateComplete, eng.State())

	before, ok := eng.GetExport("beforeNext")
	require.True(t, ok)
	assert.Equal(t, "", before.Str(), "the body must not run until the first next() call")

	after, ok := eng.GetExport("afterNext")
	require.True(t, ok)
	assert.Equal(t, "start,", after.Str())

	firstValue, ok := eng.GetExport("firstValue")
	require.True(t, ok)
	assert.Equal(t, float64(1), firstValue.Num())

	firstDone, ok := eng.GetExport("firstDone")
	require.True(t, ok)
	assert.False(t, firstDone.Bool())
}

func TestGeneratorNextDrainsToCompletion(t *testing.T) {
	t.Parallel()

	eng := scriptengine.New()
	require.NoError(t, eng.Prepare(fixtures.GeneratorDrainedToCompletion))

	_, err := eng.Run()
	require.NoError(t, err)
	assert.Equal(t, scriptengine.StateComplete, eng.State())

	aValue, ok := eng.GetExport("aValue")
	require.True(t, ok)
	assert.Equal(t, float64(1), aValue.Num())
	aDone, ok := eng.GetExport("aDone")
	require.True(t, ok)
	assert.False(t, aDone.Bool())

	bValue, ok := eng.GetExport("bValue")
	require.True(t, ok)
	assert.Equal(t, float64(2), bValue.Num())
	bDone, ok := eng.GetExport("bDone")
	require.True(t, ok)
	assert.False(t, bDone.Bool())

	cDone, ok := eng.GetExport("cDone")
	require.True(t, ok)
	assert.True(t, cDone.Bool(), "a third next() past the last yield must report done")
}

func TestAsyncFunctionCallReturnsAFulfilledPromise(t *testing.T) {
	t.Parallel()

	eng := scriptengine.New()
	require.NoError(t, eng.Prepare(fixtures.AsyncFunctionReturnsPromise))

	_, err := eng.Run()
	require.NoError(t, err)
	assert.Equal(t, scriptengine.StateComplete, eng.State())

	result, ok := eng.GetExport("result")
	require.True(t, ok)
	assert.Equal(t, float64(42), result.Num())
}

func TestAsyncFunctionThrowRejectsItsPromise(t *testing.T) {
	t.Parallel()

	eng := scriptengine.New()
	require.NoError(t, eng.Prepare(fixtures.AsyncFunctionThrowRejectsPromise))

	_, err := eng.Run()
	require.NoError(t, err)
	assert.Equal(t, scriptengine.StateComplete, eng.State())

	reason, ok := eng.GetExport("reason")
	require.True(t, ok)
	assert.Equal(t, "boom", reason.Str())
}

func TestCancelOrdersRejectsBackingPromise(t *testing.T) {
	t.Parallel()

	eng := scriptengine.New()
	require.NoError(t, eng.Prepare("var reply = __order__(1);"))

	res, err := eng.Run()
	require.NoError(t, err)
	require.Len(t, res.Pending, 1)

	eng.CancelOrders([]uint64{res.Pending[0].ID})

	// The script never wraps the order in try/catch, so the
	// cancellation error propagates uncaught: the engine reaches
	// Errored rather than hanging on a resolution that will never come
	// through FulfillOrders.
	_, err = eng.Run()
	assert.Error(t, err)
	assert.Equal(t, scriptengine.StateErrored, eng.State())
}
