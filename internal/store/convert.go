package store

import "time"

// conversationFromData maps a raw conversation document onto the local type.
// Missing or mistyped fields become zero values rather than errors; documents
// written by older clients do not always carry every field.
func conversationFromData(uid, id string, data map[string]any) Conversation {
	return Conversation{
		ID:          id,
		OwnerUID:    uid,
		Title:       asString(data["title"]),
		LastMessage: asString(data["lastMessage"]),
		CreatedAt:   asTime(data["createdAt"]),
		UpdatedAt:   asTime(data["updatedAt"]),
	}
}

func messageFromData(conversationID, id string, data map[string]any) Message {
	return Message{
		ID:             id,
		ConversationID: conversationID,
		Role:           asString(data["role"]),
		Content:        asString(data["content"]),
		Mode:           asString(data["mode"]),
		Citations:      asStrings(data["citations"]),
		GenerationTime: asFloat(data["generationTime"]),
		ModelUsed:      asString(data["modelUsed"]),
		CreatedAt:      asTime(data["createdAt"]),
	}
}

func asString(v any) string {
	s, _ := v.(string)
	return s
}

func asTime(v any) time.Time {
	t, _ := v.(time.Time)
	return t
}

func asFloat(v any) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case int64:
		return float64(n)
	}
	return 0
}

func asStrings(v any) []string {
	switch vs := v.(type) {
	case []string:
		return vs
	case []any:
		out := make([]string, 0, len(vs))
		for _, item := range vs {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		if len(out) == 0 {
			return nil
		}
		return out
	}
	return nil
}
