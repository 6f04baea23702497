package domain

// MissionCommand names a command accepted by the mission plugin. Commands double as
// audit actions and as the command name reported by InvalidTransitionError.
type MissionCommand string

const (
	CommandCreateMission         MissionCommand = "create_mission"
	CommandAcceptMission         MissionCommand = "accept_mission_proposal"
	CommandProposeHop            MissionCommand = "propose_hop"
	CommandAcceptHop             MissionCommand = "accept_hop_proposal"
	CommandProposeImplementation MissionCommand = "propose_hop_implementation"
	CommandAcceptImplementation  MissionCommand = "accept_hop_implementation"
	CommandStartHop              MissionCommand = "start_hop_execution"
	CommandFailHop               MissionCommand = "fail_hop_execution"
	CommandRetryHop              MissionCommand = "retry_hop_execution"
	CommandResolveHop            MissionCommand = "resolve_hop"
	CommandEscalate              MissionCommand = "escalate_mission"
	CommandImportSnapshot        MissionCommand = "import_mission_snapshot"
)

// IsValid checks if the command is a known mission command
func (c MissionCommand) IsValid() bool {
	switch c {
	case CommandCreateMission, CommandAcceptMission, CommandProposeHop, CommandAcceptHop,
		CommandProposeImplementation, CommandAcceptImplementation, CommandStartHop,
		CommandFailHop, CommandRetryHop, CommandResolveHop, CommandEscalate, CommandImportSnapshot:
		return true
	default:
		return false
	}
}

func (c MissionCommand) String() string {
	return string(c)
}

// RetryMode selects how a failed hop re-enters execution.
type RetryMode string

const (
	RetryResume  RetryMode = "resume"
	RetryRestart RetryMode = "restart"
)
