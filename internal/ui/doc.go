// Package ui renders fleet status for the terminal.
//
// Tables are built on the Bubbles table component and styled with Lip Gloss.
// Colors are ANSI codes so output stays readable on any terminal palette:
//
//	ColorSuccess   (green)  - healthy hosts, low utilization
//	ColorWarning   (yellow) - utilization between 60% and 80%
//	ColorError     (red)    - failed hosts, utilization above 80%
//	ColorMuted     (gray)   - secondary text, timing info
//	ColorSecondary (blue)   - in-progress indicators
//
// Use DisableColors() to switch to monochrome output (for --no-color).
package ui
