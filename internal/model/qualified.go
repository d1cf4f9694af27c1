package model

import (
	"path/filepath"
	"strings"
)

// BaseFilename returns the base name of path up to its first dot.
// Offset and feature files are named after their translation unit, so
// "dir/foo.c.offsets" and "foo.features" both yield "foo".
func BaseFilename(path string) string {
	base := filepath.Base(path)
	name, _, _ := strings.Cut(base, ".")
	return name
}

// QualifiedID builds the cross-stage join key application.baseFilename.blockID.
func QualifiedID(application, file, blockID string) string {
	return application + "." + BaseFilename(file) + "." + blockID
}

// SplitQualifiedID recovers the file and block parts of a qualified ID
// built for application. The application may contain dots; the file and
// block parts produced by QualifiedID never do. ok is false when id does
// not belong to application or has no block part.
func SplitQualifiedID(application, id string) (file, blockID string, ok bool) {
	rest, found := strings.CutPrefix(id, application+".")
	if !found {
		return "", "", false
	}
	i := strings.LastIndexByte(rest, '.')
	if i <= 0 || i == len(rest)-1 {
		return "", "", false
	}
	return rest[:i], rest[i+1:], true
}
