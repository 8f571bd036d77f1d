package localmodel

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"time"
)

// FastTextBinary is the name of the fastText CLI on PATH. The original
// reference wraps this same binary via a SWIG Python extension
// (DESIGN.md, localmodel section); Go has no in-process binding in the pack, so shelling
// out is the faithful analog.
var FastTextBinary = "fasttext"

// FastTextModel wraps a trained fastText model file, predicting via
// `fasttext predict-prob <model> -`.
type FastTextModel struct {
	Path    string
	Timeout time.Duration
}

var _ Predictor = (*FastTextModel)(nil)

// label1 is the fastText label GuardianBridge trains for "violation".
const label1 = "__label__1"

func (m *FastTextModel) PredictProba(text string) (float64, error) {
	timeout := m.Timeout
	if timeout == 0 {
		timeout = 5 * time.Second
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, FastTextBinary, "predict-prob", m.Path, "-", "2")
	cmd.Stdin = strings.NewReader(preprocessForFastText(text) + "\n")

	out, err := cmd.Output()
	if err != nil {
		return 0, fmt.Errorf("fasttext predict-prob: %w", err)
	}

	return parseFastTextOutput(out)
}

// preprocessForFastText tokenizes text with the rule-based Tokenize and
// joins the tokens with spaces, as fastText expects. There is no Jieba or
// tiktoken option on this path.
func preprocessForFastText(text string) string {
	return strings.Join(Tokenize(text), " ")
}

// parseFastTextOutput reads "__label__0 0.9 __label__1 0.1"-style output
// and returns the probability mass on label1.
func parseFastTextOutput(out []byte) (float64, error) {
	scanner := bufio.NewScanner(strings.NewReader(string(out)))
	if !scanner.Scan() {
		return 0, fmt.Errorf("fasttext: empty output")
	}

	fields := strings.Fields(scanner.Text())

	for i := 0; i+1 < len(fields); i += 2 {
		if fields[i] == label1 {
			return strconv.ParseFloat(fields[i+1], 64)
		}
	}

	return 0, fmt.Errorf("fasttext: label %s not found in output", label1)
}

// LoadFastTextModel validates the model file exists and passes corruption
// checks (size, canary prediction) before returning a usable Predictor.
func LoadFastTextModel(path string, timeout time.Duration) (*FastTextModel, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}

	if info.Size() < minModelSize {
		os.Remove(path)
		return nil, fmt.Errorf("%w: file below %d bytes", ErrCorrupted, minModelSize)
	}

	model := &FastTextModel{Path: path, Timeout: timeout}

	if _, err := model.PredictProba("canary"); err != nil {
		os.Remove(path)
		return nil, fmt.Errorf("%w: canary prediction failed: %v", ErrCorrupted, err)
	}

	return model, nil
}

// TrainFastText shells out to `fasttext supervised`, the training-side
// counterpart of LoadFastTextModel.
func TrainFastText(ctx context.Context, inputPath, outputPrefix string, epochs int) error {
	args := []string{
		"supervised",
		"-input", inputPath,
		"-output", outputPrefix,
	}

	if epochs > 0 {
		args = append(args, "-epoch", strconv.Itoa(epochs))
	}

	cmd := exec.CommandContext(ctx, FastTextBinary, args...)

	return cmd.Run()
}
