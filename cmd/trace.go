package cmd

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
)

type traceKind int

const (
	traceRead traceKind = iota
	traceWrite
	traceInvalidate
)

// A traceEvent is one line of a trace file. Value is a virtual address for
// reads and writes and a virtual page number for invalidations.
type traceEvent struct {
	Kind  traceKind
	Value uint64
}

// parseTrace reads a trace in the line format
//
//	R <vaddr>    read access
//	W <vaddr>    write access
//	I <vpn>      invalidate a virtual page
//
// Numbers may be hexadecimal with an 0x prefix or decimal. Blank lines and
// lines starting with # are skipped.
func parseTrace(r io.Reader) ([]traceEvent, error) {
	var events []traceEvent

	scanner := bufio.NewScanner(r)
	lineNum := 0
	for scanner.Scan() {
		lineNum++

		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		event, err := parseTraceLine(line)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", lineNum, err)
		}

		events = append(events, event)
	}

	if err := scanner.Err(); err != nil {
		return nil, err
	}

	return events, nil
}

func parseTraceLine(line string) (traceEvent, error) {
	fields := strings.Fields(line)
	if len(fields) != 2 {
		return traceEvent{},
			fmt.Errorf("expected 2 fields, got %d", len(fields))
	}

	value, err := strconv.ParseUint(fields[1], 0, 64)
	if err != nil {
		return traceEvent{}, fmt.Errorf("bad number %q", fields[1])
	}

	switch fields[0] {
	case "R":
		return traceEvent{Kind: traceRead, Value: value}, nil
	case "W":
		return traceEvent{Kind: traceWrite, Value: value}, nil
	case "I":
		return traceEvent{Kind: traceInvalidate, Value: value}, nil
	default:
		return traceEvent{}, fmt.Errorf("unknown operation %q", fields[0])
	}
}

func parseTraceFile(path string) ([]traceEvent, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	return parseTrace(f)
}
