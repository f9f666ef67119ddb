package pipeline

import (
	"fmt"
	"strings"

	"github.com/saybook/saybook/pkg/types"
)

// parsePromptTemplate turns one chapter segment into tagged lines. The
// placeholders are filled by fillParsePrompt.
const parsePromptTemplate = `你是一个小说有声书制作助手。请将下面的小说文本拆分为逐条台词，并为每条台词标注说话角色、情绪和情绪强度。

要求：
1. 旁白和叙述性文字的角色为"旁白"，情绪固定为"平静"，强度固定为"中等"。
2. 对话台词的角色使用说话人的名字。已知角色列表：【{possible_characters}】。如果说话人不在列表中，使用文中出现的名字新建角色。
3. 情绪只能从以下列表中选择：【{possible_emotions}】。
4. 强度只能从以下列表中选择：【{possible_strengths}】。
5. 严格按原文顺序输出，不要遗漏、改写或合并文本。

请严格输出 JSON 数组，每个元素包含 role、text、emotion、strength 四个字段，不要输出其他任何内容。

示例输出：
[{"role": "旁白", "text": "夜色渐深。", "emotion": "平静", "strength": "中等"}, {"role": "林远", "text": "你来了。", "emotion": "惊喜", "strength": "稍弱"}]

小说文本：
{novel_content}`

// fillParsePrompt substitutes the known role names, allowed vocabularies
// and segment text into the parse template.
func fillParsePrompt(roleNames, emotionNames, strengthNames []string, segment string) string {
	p := parsePromptTemplate
	p = strings.ReplaceAll(p, "{possible_characters}", strings.Join(roleNames, ", "))
	p = strings.ReplaceAll(p, "{possible_emotions}", strings.Join(emotionNames, ", "))
	p = strings.ReplaceAll(p, "{possible_strengths}", strings.Join(strengthNames, ", "))
	p = strings.ReplaceAll(p, "{novel_content}", segment)
	return p
}

// emotionViolation is one line whose emotion or strength fell outside the
// allowed vocabulary, queued for a single repair call.
type emotionViolation struct {
	Index    int
	Role     string
	Snippet  string
	Emotion  string
	Strength string
}

// emotionFix is one correction returned by the repair call.
type emotionFix struct {
	Index    int    `json:"index"`
	Emotion  string `json:"emotion"`
	Strength string `json:"strength"`
}

// buildRepairPrompt asks the model to re-pick emotion/strength for the
// offending lines only.
func buildRepairPrompt(violations []emotionViolation, emotionNames, strengthNames []string) string {
	var items strings.Builder
	for _, v := range violations {
		fmt.Fprintf(&items, "  - 序号 %d, 角色: %s, 台词片段: %q, 当前情绪: %q, 当前强度: %q\n",
			v.Index, v.Role, v.Snippet, v.Emotion, v.Strength)
	}

	return fmt.Sprintf(`你之前的输出中，以下台词的情绪或强度不在合法列表中，请重新为它们选择正确的情绪和强度。

不合法的条目：
%s
合法的情绪列表（只能从中选择）：
【%s】

合法的强度列表（只能从中选择）：
【%s】

请严格输出 JSON 数组，每个元素包含 index、emotion、strength 三个字段。
不要输出其他任何内容。

示例输出：
[{"index": 0, "emotion": "平静", "strength": "中等"}, {"index": 3, "emotion": "高兴", "strength": "较强"}]`,
		items.String(), strings.Join(emotionNames, ", "), strings.Join(strengthNames, ", "))
}

// buildVoiceMatchPrompt asks the model to map unbound role names to the
// most fitting voice, given early-chapter context and voice descriptions.
func buildVoiceMatchPrompt(contextText string, roleNames []string, voices []types.Voice) string {
	var voiceDesc strings.Builder
	for _, v := range voices {
		if v.Description != "" {
			fmt.Fprintf(&voiceDesc, "  - %s: %s\n", v.Name, v.Description)
		} else {
			fmt.Fprintf(&voiceDesc, "  - %s\n", v.Name)
		}
	}

	return fmt.Sprintf(`你是一个有声书音色分配助手。根据下面的小说片段，为每个角色挑选一个最合适的音色。

需要分配音色的角色：
【%s】

可用音色列表：
%s
请结合角色在文中的性别、年龄和性格来选择。每个角色只能选择一个音色，音色名必须来自可用音色列表。

请严格输出 JSON 数组，每个元素包含 role_name、voice_name 两个字段，不要输出其他任何内容。

示例输出：
[{"role_name": "林远", "voice_name": "青年男声"}]

小说片段：
%s`, strings.Join(roleNames, ", "), voiceDesc.String(), contextText)
}
