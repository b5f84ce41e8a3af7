package parsers

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/sabakan-dev/sabakan/internal/errors"
	"github.com/sabakan-dev/sabakan/internal/status"
)

// psColumns is the number of columns requested with -o pid,cp,time,etime,cmd.
const psColumns = 5

// ParsePS parses the output of `ps -ww -p PIDS -o pid,cp,time,etime,cmd`.
// The header line is discarded and the cmd column keeps its inner spaces.
// The cp column is in permille and is converted to a percentage.
func ParsePS(output string) ([]status.ProcessRecord, error) {
	records := []status.ProcessRecord{}
	header := true

	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if header {
			header = false
			continue
		}

		fields := splitFields(line, psColumns)
		if len(fields) != psColumns {
			return nil, errors.New(errors.ErrParse,
				fmt.Sprintf("ps line has %d fields, expected %d: %q", len(fields), psColumns, line), "")
		}

		pid, err := strconv.Atoi(fields[0])
		if err != nil {
			return nil, errors.WrapWithCode(err, errors.ErrParse,
				fmt.Sprintf("ps line has a non-numeric pid: %q", line), "")
		}
		permille, err := strconv.ParseFloat(fields[1], 64)
		if err != nil {
			return nil, errors.WrapWithCode(err, errors.ErrParse,
				fmt.Sprintf("ps line has a non-numeric cp: %q", line), "")
		}

		records = append(records, status.ProcessRecord{
			PID:         pid,
			CPUPercent:  permille / 10,
			CPUTime:     NormalizePSTime(fields[2]),
			ElapsedTime: NormalizePSTime(fields[3]),
			FullCommand: fields[4],
		})
	}
	return records, nil
}

// NormalizePSTime rewrites the ps "D-HH:MM:SS" form as "D days HH:MM:SS".
// Times without a day component are returned unchanged.
func NormalizePSTime(s string) status.PSTime {
	return status.PSTime(strings.Replace(strings.TrimSpace(s), "-", " days ", 1))
}

// splitFields splits s on runs of whitespace into at most n fields. The last
// field holds the rest of the line with its inner spacing intact.
func splitFields(s string, n int) []string {
	var fields []string
	s = strings.TrimSpace(s)
	for s != "" && len(fields) < n-1 {
		i := strings.IndexAny(s, " \t")
		if i < 0 {
			break
		}
		fields = append(fields, s[:i])
		s = strings.TrimLeft(s[i:], " \t")
	}
	if s != "" {
		fields = append(fields, s)
	}
	return fields
}
