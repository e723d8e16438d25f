package watch

import "os"

// listSubdirs walks root one level at a time, returning every
// directory under it (including nested ones) so a recursive watch can
// install fsnotify watches on each — fsnotify itself is not recursive.
func listSubdirs(root string) []string {
	var out []string
	entries, err := os.ReadDir(root)
	if err != nil {
		return out
	}
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		full := root + string(os.PathSeparator) + e.Name()
		out = append(out, full)
		out = append(out, listSubdirs(full)...)
	}
	return out
}

func isDirPath(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return info.IsDir()
}
