package rules

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"

	"streamscraper/pkg/models"
)

// Prompt asks the operator for rules until they decline to add another.
// An empty tag answer falls back to defaultTag. Input ending early returns
// the rules collected so far.
func Prompt(in io.Reader, out io.Writer, defaultTag string) (Set, error) {
	reader := bufio.NewReader(in)
	var collected []models.FilterRule

	fmt.Fprintln(out, "Enter the matching rules for the stream.")
	for {
		pattern, err := ask(reader, out, "\nRule: ")
		if pattern == "" {
			if err != nil {
				return New(collected...), eofIsDone(err)
			}
			fmt.Fprintln(out, "A rule cannot be empty.")
			continue
		}
		if err != nil {
			collected = append(collected, models.FilterRule{Pattern: pattern, Tag: defaultTag})
			return New(collected...), eofIsDone(err)
		}

		tag, err := ask(reader, out, "Tag for that rule: ")
		if err != nil && !errors.Is(err, io.EOF) {
			return New(collected...), err
		}
		if tag == "" {
			tag = defaultTag
		}
		collected = append(collected, models.FilterRule{Pattern: pattern, Tag: tag})
		if err != nil {
			return New(collected...), nil
		}

		more, err := confirm(reader, out, "\nAdd another rule? (y/n): ")
		if err != nil {
			return New(collected...), eofIsDone(err)
		}
		if !more {
			return New(collected...), nil
		}
	}
}

func ask(reader *bufio.Reader, out io.Writer, question string) (string, error) {
	fmt.Fprint(out, question)
	line, err := reader.ReadString('\n')
	line = strings.TrimSpace(line)
	if err != nil && line != "" && errors.Is(err, io.EOF) {
		return line, io.EOF
	}
	return line, err
}

func confirm(reader *bufio.Reader, out io.Writer, question string) (bool, error) {
	for {
		answer, err := ask(reader, out, question)
		switch strings.ToLower(answer) {
		case "y", "yes":
			return true, nil
		case "n", "no":
			return false, nil
		}
		if err != nil {
			return false, err
		}
		fmt.Fprintln(out, "Please enter 'y' or 'n'.")
	}
}

func eofIsDone(err error) error {
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}
