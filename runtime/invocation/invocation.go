// Package invocation implements the invocation rewriter (spec §4.5):
// split a local compiler command-line into a preprocess step and a
// compile step suitable for remote execution.
package invocation

import (
	"path/filepath"
	"strings"

	"github.com/wuild-project/wuild/runtime/model"
)

// ToolKind identifies the compiler family recognized from the
// executable name (spec §4.5: "recognize the compiler kind from
// executable name").
type ToolKind int

const (
	KindUnknown ToolKind = iota
	KindGCC
	KindClang
	KindMSVC
)

// GuessToolKind matches the executable basename against the original
// project's substring rules (VersionChecker.cpp's GuessToolType):
// "cl.exe" -> MSVC, "clang" -> Clang, else gcc/g++/mingw -> GCC.
func GuessToolKind(executablePath string) ToolKind {
	name := strings.ToLower(filepath.Base(executablePath))
	switch {
	case strings.Contains(name, "cl.exe"):
		return KindMSVC
	case strings.Contains(name, "clang"):
		return KindClang
	default:
		for _, gccName := range []string{"gcc", "g++", "mingw"} {
			if strings.Contains(name, gccName) {
				return KindGCC
			}
		}
	}
	return KindUnknown
}

// sourceExtensions are the recognized compilable-input extensions,
// used by ClassifyInvocation to spot the input argument among a raw,
// unpositioned command line (spec §4.5).
var sourceExtensions = map[string]bool{
	".c": true, ".cc": true, ".cpp": true, ".cxx": true, ".c++": true,
}

func isSourceArg(a string) bool {
	return sourceExtensions[strings.ToLower(filepath.Ext(a))]
}

// ClassifyInvocation is the generic local-invocation parse a build
// driver's raw command line goes through before SplitInvocation can
// run: it recognizes the compiler kind, decides CommandType, and
// locates the input/output arguments by the flag families spec §4.5
// names (-c/-o for GCC/Clang, /c//Fo: for MSVC). Used by the tool
// proxy server (spec §4.5 external contract), which receives a raw,
// unsplit invocation rather than one already positioned by a build
// driver integration.
func ClassifyInvocation(id model.ToolId, args []string) model.ToolCommandline {
	cmd := model.NewToolCommandline(id)
	if GuessToolKind(id.ExecutablePath) == KindMSVC {
		classifyMSVC(&cmd, args)
	} else {
		classifyGCCLike(&cmd, args)
	}
	return cmd
}

// classifyGCCLike locates -c (compile marker), -o <path> (output),
// and the first non-flag argument with a recognized source extension
// (input). All three must resolve for CommandType to become Compile.
func classifyGCCLike(cmd *model.ToolCommandline, args []string) {
	hasCompileFlag := false
	cmd.Args = append([]string(nil), args...)
	for i, a := range cmd.Args {
		switch {
		case a == "-c":
			hasCompileFlag = true
		case a == "-o":
			if i+1 < len(cmd.Args) {
				cmd.OutputArgIndex = i + 1
			}
		case cmd.InputArgIndex == model.UnsetArgIndex && !strings.HasPrefix(a, "-") && isSourceArg(a):
			cmd.InputArgIndex = i
		}
	}
	if hasCompileFlag && cmd.InputArgIndex != model.UnsetArgIndex && cmd.OutputArgIndex != model.UnsetArgIndex {
		cmd.Type = model.Compile
	}
}

// classifyMSVC locates /c (compile marker) and the first non-flag
// source-extension argument (input), as classifyGCCLike does. MSVC's
// /Fo: flag arrives as one concatenated token ("/Fo:path", no space);
// this codebase represents it internally as two Args entries (a bare
// "/Fo:" flag, then the path) so OutputArgIndex can point at a plain
// path like every other tool kind — so a concatenated token is split
// in place before indices are assigned.
func classifyMSVC(cmd *model.ToolCommandline, args []string) {
	expanded := make([]string, 0, len(args)+1)
	for _, a := range args {
		if strings.HasPrefix(a, "/Fo:") && len(a) > len("/Fo:") {
			expanded = append(expanded, "/Fo:", a[len("/Fo:"):])
			continue
		}
		expanded = append(expanded, a)
	}
	cmd.Args = expanded

	hasCompileFlag := false
	for i, a := range cmd.Args {
		switch {
		case a == "/c" || a == "/C":
			hasCompileFlag = true
		case a == "/Fo:":
			if i+1 < len(cmd.Args) {
				cmd.OutputArgIndex = i + 1
			}
		case cmd.InputArgIndex == model.UnsetArgIndex && !strings.HasPrefix(a, "/") && !strings.HasPrefix(a, "-") && isSourceArg(a):
			cmd.InputArgIndex = i
		}
	}
	if hasCompileFlag && cmd.InputArgIndex != model.UnsetArgIndex {
		cmd.Type = model.Compile
	}
}

// Split is the result of SplitInvocation: either a usable
// preprocess/compile pair, or RemotePossible=false with a reason.
type Split struct {
	RemotePossible bool
	Reason         string
	Preprocess     model.ToolCommandline
	Compile        model.ToolCommandline
}

// SplitInvocation rewrites a local ToolCommandline into a preprocess
// form (-E / /P) and a compile form (-x <lang> -c <preprocessed file> /
// /c with the preprocessed file as input), per spec §4.5. The compile
// form names the preprocessed file by path; it does not read it from
// standard input. original must already have Type == Compile and
// resolved Input()/Output().
func SplitInvocation(original model.ToolCommandline, lang string) Split {
	if original.Type != model.Compile {
		return Split{RemotePossible: false, Reason: "not a compile invocation"}
	}
	input, output := original.Input(), original.Output()
	if input == "" || output == "" {
		return Split{RemotePossible: false, Reason: "missing resolved input/output argument"}
	}

	kind := GuessToolKind(original.Id.ExecutablePath)
	switch kind {
	case KindGCC, KindClang:
		return splitGCCLike(original, kind, lang, input, output)
	case KindMSVC:
		return splitMSVC(original, input, output)
	default:
		return Split{RemotePossible: false, Reason: "unrecognized compiler kind"}
	}
}

// gccDependencyFlags are the -M family flags stripped from the remote
// compile step; they only make sense when run locally against real
// header paths (spec §4.5).
var gccDependencyFlags = map[string]bool{
	"-M": true, "-MM": true, "-MD": true, "-MMD": true,
	"-MG": true, "-MP": true,
}

// gccDependencyFlagsWithArg take a following argument (-MF file, -MT target, -MQ target).
var gccDependencyFlagsWithArg = map[string]bool{
	"-MF": true, "-MT": true, "-MQ": true,
}

func splitGCCLike(original model.ToolCommandline, kind ToolKind, lang, input, output string) Split {
	preOut := preprocessedPath(input, output)

	preArgs := make([]string, 0, len(original.Args)+2)
	for i, a := range original.Args {
		if i == original.InputArgIndex || i == original.OutputArgIndex {
			continue
		}
		if a == "-o" && i+1 == original.OutputArgIndex {
			continue
		}
		if a == "-c" || strings.HasPrefix(a, "-g") {
			continue
		}
		preArgs = append(preArgs, a)
	}
	preArgs = append(preArgs, "-E", "-o", preOut, input)
	preprocess := model.NewToolCommandline(original.Id)
	preprocess.Type = model.Preprocess
	preprocess.Args = preArgs
	preprocess.InputArgIndex = len(preArgs) - 1
	preprocess.OutputArgIndex = len(preArgs) - 2

	compArgs := make([]string, 0, len(original.Args)+6)
	skipNext := false
	for i, a := range original.Args {
		if skipNext {
			skipNext = false
			continue
		}
		if i == original.InputArgIndex || i == original.OutputArgIndex {
			continue
		}
		if a == "-o" && i+1 == original.OutputArgIndex {
			continue
		}
		if a == "-c" || strings.HasPrefix(a, "-g") {
			continue
		}
		if gccDependencyFlags[a] {
			continue
		}
		if gccDependencyFlagsWithArg[a] {
			skipNext = true
			continue
		}
		compArgs = append(compArgs, a)
	}
	if lang == "" {
		lang = defaultLangFor(input)
	}
	compArgs = append(compArgs, "-x", lang, "-c", preOut, "-o", output)
	compile := model.NewToolCommandline(original.Id)
	compile.Type = model.Compile
	compile.Args = compArgs
	compile.InputArgIndex = len(compArgs) - 3
	compile.OutputArgIndex = len(compArgs) - 1

	return Split{RemotePossible: true, Preprocess: preprocess, Compile: compile}
}

func defaultLangFor(input string) string {
	switch strings.ToLower(filepath.Ext(input)) {
	case ".c":
		return "c"
	default:
		return "c++"
	}
}

// preprocessedPath mirrors InvocationRewriter::GetPreprocessedPath:
// "<dir>/pp_<object-stem><source-extension>".
func preprocessedPath(sourcePath, objectPath string) string {
	dir := filepath.Dir(objectPath)
	stem := strings.TrimSuffix(filepath.Base(objectPath), filepath.Ext(objectPath))
	return filepath.Join(dir, "pp_"+stem+filepath.Ext(sourcePath))
}

func splitMSVC(original model.ToolCommandline, input, output string) Split {
	for _, a := range original.Args {
		if strings.HasPrefix(a, "/AI") || strings.HasPrefix(a, "-AI") {
			return Split{RemotePossible: false, Reason: "local-only /AI response flag present"}
		}
	}

	preOut := preprocessedPath(input, output)

	preArgs, preInIdx, preOutIdx := rewriteMSVCFlags(original, true, input, preOut)
	preprocess := model.NewToolCommandline(original.Id)
	preprocess.Type = model.Preprocess
	preprocess.Args = preArgs
	preprocess.InputArgIndex = preInIdx
	preprocess.OutputArgIndex = preOutIdx

	compArgs, compInIdx, compOutIdx := rewriteMSVCFlags(original, false, preOut, output)
	compile := model.NewToolCommandline(original.Id)
	compile.Type = model.Compile
	compile.Args = compArgs
	compile.InputArgIndex = compInIdx
	compile.OutputArgIndex = compOutIdx

	return Split{RemotePossible: true, Preprocess: preprocess, Compile: compile}
}

// rewriteMSVCFlags rewrites /c->/P and /Fo:->/Fi: for the preprocess
// step, converts /Zi,/ZI -> /Z7 and drops /Fd:,/Gm,/FS for the remote
// step, per MsvcCommandLineParser::{SetInvokeType,RemoveLocalFlags}.
// stepInput/stepOutput are the already-resolved paths for this step
// (source file for preprocess, preprocessed file -> object for compile).
func rewriteMSVCFlags(original model.ToolCommandline, preprocessStep bool, stepInput, stepOutput string) (args []string, inIdx, outIdx int) {
	inIdx, outIdx = model.UnsetArgIndex, model.UnsetArgIndex
	args = make([]string, 0, len(original.Args)+2)
	skipNext := false
	for i, a := range original.Args {
		if skipNext {
			skipNext = false
			continue
		}
		if i == original.InputArgIndex || i == original.OutputArgIndex {
			continue
		}
		switch {
		case a == "/c" || a == "/C":
			if preprocessStep {
				args = append(args, "/P")
			} else {
				args = append(args, "/c")
			}
			continue
		case strings.HasPrefix(a, "/Fo:"):
			if preprocessStep {
				args = append(args, "/Fi:")
			} else {
				args = append(args, "/Fo:")
			}
			outIdx = len(args)
			args = append(args, stepOutput)
			continue
		case a == "/Fd:" || strings.HasPrefix(a, "/Fd:"):
			if !preprocessStep {
				continue // dropped remotely: PDBs don't travel
			}
		case a == "/Gm" || a == "/FS":
			if !preprocessStep {
				continue
			}
		case a == "/ZI" || a == "/Zi":
			if !preprocessStep {
				args = append(args, "/Z7")
				continue
			}
		case !preprocessStep && (a == "/I" || a == "/D" || a == "/showIncludes" || a == "/external:I"):
			continue
		}
		args = append(args, a)
	}
	if outIdx == model.UnsetArgIndex {
		if preprocessStep {
			args = append(args, "/Fi:")
		} else {
			args = append(args, "/Fo:")
		}
		outIdx = len(args)
		args = append(args, stepOutput)
	}
	inIdx = len(args)
	args = append(args, stepInput)
	return args, inIdx, outIdx
}
