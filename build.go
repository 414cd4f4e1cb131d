//go:build ignore

// build.go - License Trust build script
// Usage: go run build.go [-target=TARGET]
// Targets: all, trustd, certagent, test, clean, release

package main

import (
	"flag"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"time"
)

const versionPkg = "licensetrust/pkg/contracts"

var (
	distDir = "dist"

	// key = cmd directory, value = output name without extension
	executables = map[string]string{
		"trustd":    "trustd",
		"certagent": "certagent",
	}

	// release platforms as GOOS/GOARCH
	platforms = []string{"linux/amd64", "linux/arm64", "windows/amd64", "darwin/arm64"}

	colorReset  = "\033[0m"
	colorRed    = "\033[31m"
	colorGreen  = "\033[32m"
	colorYellow = "\033[33m"
	colorBlue   = "\033[34m"
	colorCyan   = "\033[36m"
)

func main() {
	target := flag.String("target", "all", "Build target")
	verbose := flag.Bool("v", false, "Verbose output")
	flag.Parse()

	printHeader()
	start := time.Now()

	switch *target {
	case "all":
		for name := range executables {
			build(name, runtime.GOOS, runtime.GOARCH, *verbose)
		}
	case "trustd", "certagent":
		build(*target, runtime.GOOS, runtime.GOARCH, *verbose)
	case "test":
		runTests(*verbose)
	case "clean":
		clean()
	case "release":
		release(*verbose)
	case "help":
		showHelp()
		return
	default:
		printError(fmt.Sprintf("Unknown target: %s", *target))
		showHelp()
		os.Exit(1)
	}

	printSuccess(fmt.Sprintf("Completed in %s", time.Since(start).Round(time.Millisecond)))
}

func printHeader() {
	fmt.Println(colorCyan + "===========================================" + colorReset)
	fmt.Println(colorCyan + "        License Trust - Build System       " + colorReset)
	fmt.Println(colorCyan + "===========================================" + colorReset)
	fmt.Println()
}

func printInfo(msg string) {
	fmt.Printf("%s[INFO]%s %s\n", colorBlue, colorReset, msg)
}

func printSuccess(msg string) {
	fmt.Printf("%s[SUCCESS]%s %s\n", colorGreen, colorReset, msg)
}

func printError(msg string) {
	fmt.Printf("%s[ERROR]%s %s\n", colorRed, colorReset, msg)
}

func printWarning(msg string) {
	fmt.Printf("%s[WARNING]%s %s\n", colorYellow, colorReset, msg)
}

// ldflags stamps the build time and commit into the version package
func ldflags() string {
	commit := "unknown"
	if out, err := exec.Command("git", "rev-parse", "--short", "HEAD").Output(); err == nil {
		commit = strings.TrimSpace(string(out))
	} else {
		printWarning("git commit not available, stamping 'unknown'")
	}
	return fmt.Sprintf("-s -w -X %s.BuildTime=%s -X %s.GitCommit=%s",
		versionPkg, time.Now().UTC().Format(time.RFC3339), versionPkg, commit)
}

func build(name, goos, goarch string, verbose bool) {
	exe := executables[name]
	if goos == "windows" {
		exe += ".exe"
	}
	output := filepath.Join(distDir, goos+"_"+goarch, exe)

	printInfo(fmt.Sprintf("Building %s for %s/%s...", name, goos, goarch))

	args := []string{"build", "-trimpath", "-ldflags", ldflags(), "-o", output, "./cmd/" + name}
	if verbose {
		args = append([]string{"build", "-v"}, args[1:]...)
	}

	cmd := exec.Command("go", args...)
	cmd.Env = append(os.Environ(), "CGO_ENABLED=0", "GOOS="+goos, "GOARCH="+goarch)
	cmd.Stderr = os.Stderr
	if verbose {
		fmt.Printf("Running: go %s\n", strings.Join(args, " "))
		cmd.Stdout = os.Stdout
	}

	if err := cmd.Run(); err != nil {
		printError(fmt.Sprintf("Failed to build %s: %v", name, err))
		os.Exit(1)
	}

	if info, err := os.Stat(output); err == nil {
		printSuccess(fmt.Sprintf("Built %s (%.1f MB)", output, float64(info.Size())/1024/1024))
	}
}

func runTests(verbose bool) {
	printInfo("Running Go tests...")
	args := []string{"test", "-race"}
	if verbose {
		args = append(args, "-v")
	}
	args = append(args, "./...")

	cmd := exec.Command("go", args...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Run(); err != nil {
		printError(fmt.Sprintf("Go tests failed: %v", err))
		os.Exit(1)
	}
	printSuccess("All tests passed")
}

func clean() {
	printInfo("Cleaning build artifacts...")
	if err := os.RemoveAll(distDir); err != nil {
		printError(fmt.Sprintf("Failed to clean %s: %v", distDir, err))
		os.Exit(1)
	}
	printSuccess("Build artifacts cleaned")
}

func release(verbose bool) {
	printInfo("Building release for all platforms...")
	clean()
	for _, p := range platforms {
		goos, goarch, _ := strings.Cut(p, "/")
		for name := range executables {
			build(name, goos, goarch, verbose)
		}
	}
}

func showHelp() {
	fmt.Println("Usage: go run build.go [-target=TARGET] [-v]")
	fmt.Println()
	fmt.Println("Targets:")
	fmt.Println("  all        Build trustd and certagent for this platform (default)")
	fmt.Println("  trustd     Build the trust server only")
	fmt.Println("  certagent  Build the certificate agent only")
	fmt.Println("  test       Run all tests with the race detector")
	fmt.Println("  clean      Remove the dist directory")
	fmt.Println("  release    Cross-compile both binaries for " + strings.Join(platforms, ", "))
}
