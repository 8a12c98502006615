package filters

const (
	AnnotationTopicIDOverride     = "postmaster.topic_id_override"
	AnnotationPriorityIDOverride  = "postmaster.priority_id_override"
	AnnotationTitleOverride       = "postmaster.title_override"
	AnnotationThreadType          = "postmaster.thread_type"
	AnnotationIgnoreMessage       = "postmaster.ignore_message"
	AnnotationTrustedHeaderPrefix = "postmaster.trusted_header."
)
