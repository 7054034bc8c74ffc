// Package script parses PBS-style directives from job scripts. Directives
// are comment lines of the form
//
//	#PBS -N name -l ncpus=4
//
// in the header block, before the first non-comment line.
package script

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/me/gobs/pkg/model"
)

const directivePrefix = "#PBS"

// Parse reads the script at path and returns a submission populated from
// its header. Mandatory fields are not enforced here: callers apply any
// command line overrides first and then call Require.
func Parse(path string) (*model.Submission, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open script: %w", err)
	}
	defer f.Close()

	sub, err := ParseHeader(f)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	sub.Filename = path
	return sub, nil
}

// ParseHeader parses PBS directives from the script header. Scanning stops
// at the first line that is neither blank nor a comment; directives below
// real script text are ignored, matching batch system convention. NCPUs
// stays zero when the header requests no cpus.
func ParseHeader(r io.Reader) (*model.Submission, error) {
	sub := &model.Submission{}

	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		switch {
		case line == "" || strings.HasPrefix(line, "#!"):
			continue
		case strings.HasPrefix(line, directivePrefix):
			if err := applyDirective(sub, strings.TrimSpace(line[len(directivePrefix):])); err != nil {
				return nil, err
			}
		case strings.HasPrefix(line, "#"):
			continue
		default:
			return sub, scanner.Err()
		}
	}
	return sub, scanner.Err()
}

// Require checks that the submission carries the fields every job must
// have: a name (-N) and a cpu request (-l ncpus=). Callers with another
// source for these, such as command line flags, fill the gaps before
// calling.
func Require(sub *model.Submission) error {
	var missing []string
	if sub.Name == "" {
		missing = append(missing, "a job name (-N)")
	}
	if sub.NCPUs < 1 {
		missing = append(missing, "a cpu request (-l ncpus=)")
	}
	if len(missing) > 0 {
		return model.NewValidationError("job header is missing %s", strings.Join(missing, " and "))
	}
	return nil
}

// applyDirective handles the flags of one #PBS line. Flags may repeat
// across lines; the last occurrence wins.
func applyDirective(sub *model.Submission, args string) error {
	fields := strings.Fields(args)
	for i := 0; i < len(fields); i++ {
		flag := fields[i]
		if !strings.HasPrefix(flag, "-") || len(flag) != 2 {
			return fmt.Errorf("malformed directive flag %q", flag)
		}
		if i+1 >= len(fields) {
			return fmt.Errorf("flag %s has no value", flag)
		}
		i++
		value := fields[i]

		switch flag {
		case "-N":
			sub.Name = value
		case "-l":
			if err := applyResources(sub, value); err != nil {
				return err
			}
		case "-o":
			sub.StdoutPath = value
		case "-e":
			sub.StderrPath = value
		case "-p":
			n, err := strconv.Atoi(value)
			if err != nil {
				return fmt.Errorf("priority %q is not an integer", value)
			}
			sub.Priority = &n
		case "-m":
			sub.MailMode = value
		case "-M":
			sub.MailTo = value
		default:
			return fmt.Errorf("unknown directive flag %q", flag)
		}
	}
	return nil
}

// applyResources handles a -l resource list: comma-separated key=value
// pairs. nodes values list allowed hostnames joined by "+".
func applyResources(sub *model.Submission, list string) error {
	for _, item := range strings.Split(list, ",") {
		key, value, ok := strings.Cut(item, "=")
		if !ok {
			return fmt.Errorf("malformed resource %q", item)
		}
		switch key {
		case "ncpus":
			n, err := strconv.Atoi(value)
			if err != nil || n < 1 {
				return fmt.Errorf("ncpus %q is not a positive integer", value)
			}
			sub.NCPUs = n
		case "nodes":
			sub.AllowedNodes = strings.Split(value, "+")
		default:
			return fmt.Errorf("unknown resource %q", key)
		}
	}
	return nil
}
