package parsers

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/sabakan-dev/sabakan/internal/errors"
	"github.com/sabakan-dev/sabakan/internal/status"
)

// ParseDiskUsage parses a host's disk usage file. The file holds a capture
// timestamp, a df-style summary line (filesystem, size, used, avail, use%,
// mount), then one "usage user" line per user.
func ParseDiskUsage(output string) (status.DiskReport, error) {
	var lines []string
	for _, line := range strings.Split(output, "\n") {
		if strings.TrimSpace(line) != "" {
			lines = append(lines, strings.TrimSpace(line))
		}
	}

	if len(lines) < 2 {
		return status.DiskReport{}, errors.New(errors.ErrParse,
			fmt.Sprintf("disk usage file has %d lines, expected a timestamp and a summary line", len(lines)),
			"Check that the du_path file is generated by the disk usage job.")
	}

	summary := strings.Fields(lines[1])
	if len(summary) != 6 {
		return status.DiskReport{}, errors.New(errors.ErrParse,
			fmt.Sprintf("disk usage summary has %d fields, expected 6: %q", len(summary), lines[1]), "")
	}

	report := status.DiskReport{
		CapturedAt: lines[0],
		Filesystem: summary[0],
		Total:      summary[1],
		Used:       summary[2],
		Available:  summary[3],
		UsedRate:   summary[4],
		Mount:      summary[5],
		Users:      make([]status.UserUsage, 0, len(lines)-2),
	}

	for _, line := range lines[2:] {
		fields := splitFields(line, 2)
		if len(fields) != 2 {
			return status.DiskReport{}, errors.New(errors.ErrParse,
				fmt.Sprintf("disk usage line should be \"usage user\": %q", line), "")
		}
		gib, err := ToGiB(fields[0])
		if err != nil {
			return status.DiskReport{}, errors.WrapWithCode(err, errors.ErrParse,
				fmt.Sprintf("disk usage line has an unreadable size: %q", line), "")
		}
		report.Users = append(report.Users, status.UserUsage{
			User:  fields[1],
			Usage: fields[0],
			GiB:   gib,
		})
	}
	return report, nil
}

// ToGiB converts a du -h style size to GiB. K, M, G and T suffixes are powers
// of 1024; a bare number is a byte count.
func ToGiB(s string) (float64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("empty size")
	}

	exp := -3.0
	switch s[len(s)-1] {
	case 'K':
		exp = -2
	case 'M':
		exp = -1
	case 'G':
		exp = 0
	case 'T':
		exp = 1
	}
	digits := s
	if exp > -3 {
		digits = s[:len(s)-1]
	}

	v, err := strconv.ParseFloat(digits, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid size %q", s)
	}
	return v * math.Pow(1024, exp), nil
}
