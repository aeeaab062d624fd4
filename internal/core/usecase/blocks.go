package usecase

import (
	"encoding/json"
	"strings"

	"github.com/kirillkom/multihop-rag/internal/core/domain"
)

// parseLLMBlocks maps the model's JSON output onto answer blocks. Anything
// that is not the expected shape is wrapped as a single paragraph; the
// function never fails and always returns at least one block.
func parseLLMBlocks(raw string) []domain.Block {
	trimmed := strings.TrimSpace(raw)
	cleaned := stripCodeFences(trimmed)

	var payload struct {
		Blocks []struct {
			Type     string   `json:"type"`
			Content  string   `json:"content"`
			Items    []string `json:"items"`
			Language string   `json:"language"`
		} `json:"blocks"`
	}
	if err := json.Unmarshal([]byte(cleaned), &payload); err != nil || payload.Blocks == nil {
		return []domain.Block{domain.Paragraph(trimmed)}
	}

	blocks := make([]domain.Block, 0, len(payload.Blocks))
	for _, b := range payload.Blocks {
		blockType := domain.BlockType(strings.TrimSpace(b.Type))
		if blockType == "" {
			blockType = domain.BlockParagraph
		}
		blocks = append(blocks, domain.Block{
			Type:     blockType,
			Content:  b.Content,
			Items:    b.Items,
			Language: b.Language,
		})
	}
	if len(blocks) == 0 {
		return []domain.Block{domain.Paragraph(trimmed)}
	}
	return blocks
}

// stripCodeFences removes an optional leading ```json / ``` line and a
// trailing ``` line around a JSON payload.
func stripCodeFences(s string) string {
	out := strings.TrimSpace(s)
	if strings.HasPrefix(out, "```json") {
		out = strings.TrimPrefix(out, "```json")
	} else if strings.HasPrefix(out, "```") {
		out = strings.TrimPrefix(out, "```")
	}
	out = strings.TrimSuffix(strings.TrimSpace(out), "```")
	return strings.TrimSpace(out)
}
