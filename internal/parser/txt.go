// Package parser splits an uploaded novel text file into chapters.
package parser

import (
	"bufio"
	"bytes"
	"fmt"
	"regexp"
	"strings"
)

// ChapterDraft is one chapter extracted from a novel file, before
// persistence assigns ids
type ChapterDraft struct {
	Number int
	Title  string
	Text   string
}

// chapterHeadingRe matches Chinese novel chapter headings like
// "第12章 标题", "第一百零三回", "第3节".
var chapterHeadingRe = regexp.MustCompile(`^第[0-9零一二三四五六七八九十百千万]+[章节回卷][\s　]*(.*)$`)

// SplitChapters breaks a novel text into chapters at heading lines.
// Content before the first heading becomes chapter 1 titled "序".
func SplitChapters(data []byte) ([]ChapterDraft, error) {
	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)

	var chapters []ChapterDraft
	var currentTitle string
	var currentText strings.Builder
	sawHeading := false

	flush := func() {
		text := strings.TrimSpace(currentText.String())
		if text == "" && currentTitle == "" {
			return
		}
		title := currentTitle
		if title == "" {
			title = "序"
		}
		chapters = append(chapters, ChapterDraft{
			Number: len(chapters) + 1,
			Title:  title,
			Text:   text,
		})
		currentText.Reset()
	}

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())

		if chapterHeadingRe.MatchString(line) {
			if sawHeading || currentText.Len() > 0 {
				flush()
			}
			currentTitle = line
			sawHeading = true
			continue
		}

		if line == "" {
			continue
		}
		if currentText.Len() > 0 {
			currentText.WriteString("\n")
		}
		currentText.WriteString(line)
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("error reading text: %w", err)
	}

	flush()

	if len(chapters) == 0 {
		return nil, fmt.Errorf("no content found in text file")
	}

	return chapters, nil
}

// IsChapterHeading reports whether a line looks like a chapter heading
func IsChapterHeading(line string) bool {
	return chapterHeadingRe.MatchString(strings.TrimSpace(line))
}
