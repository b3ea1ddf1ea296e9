package threads

import "fmt"

// Key namespaces in the shared store. The shapes are part of the
// deployed schema; changing them orphans live threads.
const (
	courseThreadPrefix = "thread:"
	mentorThreadPrefix = "mentor_thread:"
	metaPrefix         = "thread_meta:"
	videoPointerPrefix = "last_video:"

	// generalScope is the mentor scope used when no mentor id is given.
	generalScope = "general"
)

func courseThreadKey(subjectID, courseID string) string {
	return fmt.Sprintf("%s%s:%s", courseThreadPrefix, subjectID, courseID)
}

func mentorThreadKey(subjectID, mentorID string) string {
	scope := mentorID
	if scope == "" {
		scope = generalScope
	}
	return fmt.Sprintf("%s%s:%s", mentorThreadPrefix, subjectID, scope)
}

func metaKey(threadID string) string {
	return metaPrefix + threadID
}

func videoPointerKey(threadID string) string {
	return videoPointerPrefix + threadID
}
