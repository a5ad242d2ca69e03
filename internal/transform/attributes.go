package transform

import "regexp"

var (
	reAttrLine       = regexp.MustCompile(`^attributes #\d+`)
	reTargetCPU      = regexp.MustCompile(`"target-cpu"="[^"]*"`)
	reTargetFeatures = regexp.MustCompile(`"target-features"="[^"]*"`)
	reStackProtect   = regexp.MustCompile(`\bssp\w*\b`)
	reMultiSpace     = regexp.MustCompile(`  +`)
)

// stripAttributes removes host-specific entries from attribute groups.
// codegen emits none itself; extra linked IR compiled on the host may
// carry target-cpu/target-features/stack-protector attributes the BPF
// backend rejects.
func stripAttributes(lines []string) []string {
	for i, line := range lines {
		if !reAttrLine.MatchString(line) {
			continue
		}
		line = reTargetCPU.ReplaceAllString(line, "")
		line = reTargetFeatures.ReplaceAllString(line, "")
		line = reStackProtect.ReplaceAllString(line, "")
		line = reMultiSpace.ReplaceAllString(line, " ")
		lines[i] = line
	}
	return lines
}
