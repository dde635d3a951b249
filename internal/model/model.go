package model

// All lists every table the service migrates, parents before children.
func All() []interface{} {
	return []interface{}{
		&Document{},
		&Question{},
		&ContextEntry{},
		&QuestionEmbedding{},
		&AnswerEmbedding{},
	}
}
