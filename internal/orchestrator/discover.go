package orchestrator

import (
	"bufio"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Executable is a built program with the files that describe it.
type Executable struct {
	Path string
	// Name is the file name; it is the application of every block ID.
	Name        string
	OffsetFiles []string
	// FeatureFiles are per-source snapshot files (kernel.c.features).
	FeatureFiles []string
	// SharedFeatures is the compiler's features_file output in the
	// executable's directory, or "". Its records name no source file.
	SharedFeatures string
	// RunLine is the invocation from the .test descriptor. Empty when the
	// descriptor or its RUN: line is missing.
	RunLine string
}

// runMarker introduces the invocation line of a test descriptor.
const runMarker = "RUN:"

// Discover walks buildDir for executables and their companion files,
// skipping CMakeFiles and hidden directories. featuresFile is the bare
// name the compiler writes snapshots to. Results are sorted by path.
func Discover(buildDir, offsetsSuffix, featuresSuffix, featuresFile string) ([]Executable, error) {
	var exes []Executable
	err := filepath.WalkDir(buildDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if path != buildDir && (d.Name() == "CMakeFiles" || strings.HasPrefix(d.Name(), ".")) {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		if info.Mode().Perm()&0o111 == 0 {
			return nil
		}
		exe, err := describe(path, offsetsSuffix, featuresSuffix, featuresFile)
		if err != nil {
			return err
		}
		exes = append(exes, exe)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("discover executables: %w", err)
	}
	sort.Slice(exes, func(i, j int) bool { return exes[i].Path < exes[j].Path })
	return exes, nil
}

func describe(path, offsetsSuffix, featuresSuffix, featuresFile string) (Executable, error) {
	dir, name := filepath.Split(path)
	dir = filepath.Clean(dir)
	entries, err := os.ReadDir(dir)
	if err != nil {
		return Executable{}, err
	}
	var siblings []string
	shared := ""
	programs := 0
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if e.Name() == featuresFile {
			shared = filepath.Join(dir, featuresFile)
			continue
		}
		siblings = append(siblings, e.Name())
		if info, err := e.Info(); err == nil && info.Mode().IsRegular() && info.Mode().Perm()&0o111 != 0 {
			programs++
		}
	}
	alone := programs == 1

	exe := Executable{
		Path:           path,
		Name:           name,
		OffsetFiles:    companions(dir, name, siblings, offsetsSuffix, alone),
		FeatureFiles:   companions(dir, name, siblings, featuresSuffix, alone),
		SharedFeatures: shared,
	}
	exe.RunLine, err = readRunLine(filepath.Join(dir, name+".test"), dir)
	if err != nil {
		return Executable{}, err
	}
	return exe, nil
}

// companions returns the sibling files carrying suffix. A single-source
// program has files named after it (name+suffix or name.<ext>+suffix).
// When there are none and the program is alone in its directory, every
// sibling with the suffix belongs to it.
func companions(dir, name string, siblings []string, suffix string, alone bool) []string {
	var own, all []string
	for _, s := range siblings {
		if !strings.HasSuffix(s, suffix) {
			continue
		}
		all = append(all, filepath.Join(dir, s))
		if s == name+suffix || strings.HasPrefix(s, name+".") {
			own = append(own, filepath.Join(dir, s))
		}
	}
	if len(own) > 0 || !alone {
		return own
	}
	return all
}

// readRunLine returns the remainder of the first RUN: line of the
// descriptor at path, with a leading relative program resolved against
// dir. A missing descriptor yields "".
func readRunLine(path, dir string) (string, error) {
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("open test descriptor: %w", err)
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	for sc.Scan() {
		_, rest, ok := strings.Cut(sc.Text(), runMarker)
		if !ok {
			continue
		}
		return resolveProgram(strings.TrimSpace(rest), dir), nil
	}
	if err := sc.Err(); err != nil {
		return "", fmt.Errorf("read test descriptor %s: %w", path, err)
	}
	return "", nil
}

func resolveProgram(line, dir string) string {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return ""
	}
	prog := fields[0]
	if filepath.IsAbs(prog) || !strings.HasPrefix(prog, "./") && !strings.HasPrefix(prog, "../") {
		return line
	}
	fields[0] = filepath.Join(dir, prog)
	return strings.Join(fields, " ")
}
