package invocation

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/wuild-project/wuild/runtime/model"
)

func gccCompile(args []string, inputIdx, outputIdx int) model.ToolCommandline {
	c := model.NewToolCommandline(model.ToolId{ToolId: "gcc9", ExecutablePath: "/usr/bin/g++"})
	c.Type = model.Compile
	c.Args = args
	c.InputArgIndex = inputIdx
	c.OutputArgIndex = outputIdx
	return c
}

func TestGuessToolKind(t *testing.T) {
	require.Equal(t, KindGCC, GuessToolKind("/usr/bin/g++"))
	require.Equal(t, KindGCC, GuessToolKind("/usr/bin/gcc-9"))
	require.Equal(t, KindClang, GuessToolKind("/usr/bin/clang++-14"))
	require.Equal(t, KindMSVC, GuessToolKind(`C:\VS\cl.exe`))
	require.Equal(t, KindUnknown, GuessToolKind("/usr/bin/ld"))
}

func TestSplitInvocationGCC(t *testing.T) {
	orig := gccCompile([]string{"-Wall", "-c", "main.cpp", "-o", "main.o", "-g", "-MMD", "-MF", "main.d"}, 2, 4)

	split := SplitInvocation(orig, "")
	require.True(t, split.RemotePossible)
	require.Equal(t, model.Preprocess, split.Preprocess.Type)
	require.Contains(t, split.Preprocess.Args, "-E")
	require.Equal(t, "main.cpp", split.Preprocess.Input())
	require.Equal(t, "pp_main.cpp", split.Preprocess.Output())

	require.Equal(t, model.Compile, split.Compile.Type)
	require.Equal(t, "main.o", split.Compile.Output())
	require.NotContains(t, split.Compile.Args, "-MMD")
	require.NotContains(t, split.Compile.Args, "-g")
	require.Contains(t, split.Compile.Args, "-x")
}

func TestSplitInvocationNotCompile(t *testing.T) {
	orig := gccCompile([]string{"-c", "main.cpp", "-o", "main.o"}, 1, 3)
	orig.Type = model.Unknown
	split := SplitInvocation(orig, "")
	require.False(t, split.RemotePossible)
}

func TestSplitInvocationMSVC(t *testing.T) {
	c := model.NewToolCommandline(model.ToolId{ToolId: "msvc", ExecutablePath: `C:\VS\cl.exe`})
	c.Type = model.Compile
	c.Args = []string{"/c", "main.cpp", "/Fo:main.obj", "/Zi", "/Gm"}
	c.InputArgIndex = 1
	c.OutputArgIndex = 2

	split := SplitInvocation(c, "")
	require.True(t, split.RemotePossible)
	require.Contains(t, split.Preprocess.Args, "/P")
	require.Contains(t, split.Preprocess.Args, "/Fi:")
	require.NotContains(t, split.Compile.Args, "/Gm")
	require.Contains(t, split.Compile.Args, "/Z7")
}

func TestSplitInvocationMSVCRefusesAI(t *testing.T) {
	c := model.NewToolCommandline(model.ToolId{ToolId: "msvc", ExecutablePath: `C:\VS\cl.exe`})
	c.Type = model.Compile
	c.Args = []string{"/c", "main.cpp", "/Fo:main.obj", "/AIplugin.dll"}
	c.InputArgIndex = 1
	c.OutputArgIndex = 2

	split := SplitInvocation(c, "")
	require.False(t, split.RemotePossible)
}

func TestMatchesVersionGating(t *testing.T) {
	require.True(t, Matches("9.3.0", "9.3.0"))
	require.False(t, Matches("9.3.0", "9.2.0"))
	require.True(t, Matches(NoCheckVersion, "9.2.0"))
	require.True(t, Matches("9.3.0", NoCheckVersion))
}

func TestDetermineToolVersionsUsesPinned(t *testing.T) {
	vc := NewVersionChecker()
	versions := vc.DetermineToolVersions(context.Background(), []ConfiguredTool{
		{ToolId: "gcc9", PinnedVersion: NoCheckVersion},
	})
	require.Equal(t, NoCheckVersion, versions["gcc9"])
}
