package sim

// Reserved topic names consumed by the framework itself.
const (
	TopicSimTimeChanged = "SimTimeChanged"
	TopicSaveState      = "SaveState"
	TopicLoadState      = "LoadState"
	TopicEnd            = "End"
	TopicEndLogger      = "EndLogger"

	// Configuration-driven checkpoint flows.
	TopicStore                    = "Store"
	TopicRestore                  = "Restore"
	TopicConfigure                = "Configure"
	TopicCreateDefaultConfigFiles = "CreateDefaultConfigFiles"
)

// Log topics understood by the logging participant. Each carries a string payload.
const (
	TopicLogTrace   = "LogTrace"
	TopicLogDebug   = "LogDebug"
	TopicLogInfo    = "LogInfo"
	TopicLogWarning = "LogWarning"
	TopicLogError   = "LogError"
	TopicLogFatal   = "LogFatal"
)

// LogTopics lists the log topics from most to least verbose.
var LogTopics = []string{
	TopicLogTrace,
	TopicLogDebug,
	TopicLogInfo,
	TopicLogWarning,
	TopicLogError,
	TopicLogFatal,
}

// CheckpointTopics lists every topic that asks persistent participants to
// save or restore and then join the checkpoint barrier.
var CheckpointTopics = []string{
	TopicSaveState,
	TopicLoadState,
	TopicStore,
	TopicRestore,
	TopicCreateDefaultConfigFiles,
}

// IsReserved reports whether topic belongs to the framework rather than a model.
func IsReserved(topic string) bool {
	switch topic {
	case TopicSimTimeChanged, TopicSaveState, TopicLoadState, TopicEnd, TopicEndLogger,
		TopicStore, TopicRestore, TopicConfigure, TopicCreateDefaultConfigFiles:
		return true
	}
	return false
}
