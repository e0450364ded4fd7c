package detection

import (
	_ "embed"
	"os"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

//go:embed coco.names
var cocoNames string

// DefaultClassNames returns the 80 COCO labels YOLOv8 checkpoints are trained on.
func DefaultClassNames() []string {
	return parseClassNames(cocoNames)
}

// LoadClassNames reads one class label per line. An empty path selects DefaultClassNames.
func LoadClassNames(path string) ([]string, error) {
	if path == "" {
		return DefaultClassNames(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "could not read class names")
	}
	names := parseClassNames(string(data))
	if len(names) == 0 {
		return nil, errors.Errorf("no class names in %s", path)
	}
	return names, nil
}

// parseClassNames splits on newlines; trailing blank lines are dropped but inner
// ones are kept so class indices stay aligned with the model.
func parseClassNames(data string) []string {
	data = strings.TrimRight(data, "\r\n\t ")
	if data == "" {
		return nil
	}
	lines := strings.Split(data, "\n")
	for i, l := range lines {
		lines[i] = strings.TrimSpace(l)
	}
	return lines
}

// className returns the label for id, or a numbered placeholder when the model
// reports more classes than there are names.
func className(names []string, id int) string {
	if id >= 0 && id < len(names) && names[id] != "" {
		return names[id]
	}
	return "class" + strconv.Itoa(id)
}
