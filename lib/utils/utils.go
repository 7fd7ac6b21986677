package utils

import (
	"fmt"
	"strings"
	"time"
)

// ParseDate parses a YYYY-MM-DD date and returns the unix timestamp of its
// midnight in UTC.
func ParseDate(date string) (int64, error) {
	t, err := time.ParseInLocation("2006-01-02", date, time.UTC)
	if err != nil {
		return 0, err
	}
	return t.Unix(), nil
}

// FormatDate renders a unix timestamp as a YYYY-MM-DD date in UTC.
func FormatDate(ts int64) string {
	return time.Unix(ts, 0).UTC().Format("2006-01-02")
}

func PrintError(message string) {
	message = "ERROR: " + message
	bannerChar := "="
	bannerLength := len(message) + 4
	bannerLine := strings.Repeat(bannerChar, bannerLength)

	fmt.Println(bannerLine)
	fmt.Printf("%s %s %s\n", bannerChar, message, bannerChar)
	fmt.Println(bannerLine)
	fmt.Println()
}
