package editor

import (
	"bufio"
	"context"
	"fmt"
	"strings"

	"github.com/nickmisasi/governance-engine/gate"
)

// Decide implements gate.Decider by prompting on stdin/stdout. Recognizes
// the first letter of each option ("p", "r", "m") as well as the full
// name, case-insensitively. Revise additionally prompts for free-form
// feedback text on the next line.
func (d StdinDecider) Decide(ctx context.Context, artifactPath string, options []gate.Option) (gate.Option, string, error) {
	fmt.Fprintf(d.Out, "\nReview %s\n", artifactPath)
	fmt.Fprintf(d.Out, "Options: ")
	for i, opt := range options {
		if i > 0 {
			fmt.Fprint(d.Out, ", ")
		}
		fmt.Fprint(d.Out, string(opt))
	}
	fmt.Fprint(d.Out, "\n> ")

	reader := bufio.NewReader(d.In)
	line, err := reader.ReadString('\n')
	if err != nil {
		return "", "", fmt.Errorf("read gate decision: %w", err)
	}
	choice := strings.ToLower(strings.TrimSpace(line))

	for _, opt := range options {
		if choice == string(opt) || (len(choice) == 1 && strings.HasPrefix(string(opt), choice)) {
			if opt == gate.OptionRevise {
				fmt.Fprint(d.Out, "Feedback: ")
				feedback, _ := reader.ReadString('\n')
				return opt, strings.TrimSpace(feedback), nil
			}
			return opt, "", nil
		}
	}

	return "", "", fmt.Errorf("unrecognized gate response %q", choice)
}
