package simhost

// Byte layouts of the simulated host types. The bridge never sees these
// constants; it rediscovers them through the Image.
const (
	strBufSize  = 0x18
	strBufRef   = 0x00
	strBufData  = 0x08
	strBufBytes = 0x10

	valueSize = 0x28
	valueData = 0x00
	valueType = 0x20

	controlScriptSize    = 0x40
	controlScriptTarget  = 0x0c
	controlScriptText    = 0x10
	controlScriptStrict  = 0x28
	controlScriptVTables = 7

	gameSize         = 0x2000
	gameIsRunning    = 0x18
	gameFrameCounter = 0x20
	gameControl      = 0x100
	gameNetwork      = 0x400
	gameParameters   = 0x800
	gameScriptEngine = 0x1000

	controlMode = 0x10

	networkHost   = 0x08
	networkStatus = 0x40
	statusState   = 0x00

	parametersLeague = 0x60

	configSize    = 0x800
	configGeneral = 0x00
	generalReplay = 0x120

	aulErrorSize    = 0x20
	aulErrorMessage = 0x08
)

// Values the host checks when a control packet is submitted.
const (
	packetScript    = 0x80 | 0x08
	deliveryDecide  = 4
	noTargetObject  = -2
	replayMode      = 3
	valueTypeNil    = 0
	valueTypeString = 7
)

// Module names the bridge resolves against.
const (
	ModuleName = "Clonk"
	CRTModule  = "ucrtbase"
)

type memberDef struct {
	name   string
	offset uintptr
}

type typeDef struct {
	name    string
	size    uintptr
	members []memberDef
}

// hostTypes is the debug data shipped with the simulated binary. Members the
// bridge never uses are present so lookups have something to skip over.
var hostTypes = []typeDef{
	{"StdStrBuf", strBufSize, []memberDef{
		{"fRef", strBufRef}, {"pData", strBufData}, {"iSize", strBufBytes},
	}},
	{"C4Value", valueSize, []memberDef{
		{"Data", valueData}, {"NextRef", 0x08}, {"FirstRef", 0x10}, {"OwningMap", 0x18}, {"Type", valueType},
	}},
	{"C4ControlPacket", 0x0c, []memberDef{
		{"fLocal", 0x08},
	}},
	{"C4ControlScript", controlScriptSize, []memberDef{
		{"fLocal", 0x08}, {"iTargetObj", controlScriptTarget}, {"Script", controlScriptText}, {"Strict", controlScriptStrict},
	}},
	{"C4Game", gameSize, []memberDef{
		{"ScenarioFilename", 0x00}, {"IsRunning", gameIsRunning}, {"FrameCounter", gameFrameCounter},
		{"Control", gameControl}, {"Network", gameNetwork}, {"Parameters", gameParameters},
		{"ScriptEngine", gameScriptEngine},
	}},
	{"C4GameControl", 0x200, []memberDef{
		{"fRecordNeeded", 0x08}, {"eMode", controlMode}, {"fInitComplete", 0x14},
	}},
	{"C4Network2", 0x300, []memberDef{
		{"fAllowJoin", 0x00}, {"fHost", networkHost}, {"Status", networkStatus},
	}},
	{"C4Network2Status", 0x10, []memberDef{
		{"eState", statusState}, {"iTargetCtrlTick", 0x04},
	}},
	{"C4GameParameters", 0x200, []memberDef{
		{"RandomSeed", 0x00}, {"LeagueAddress", parametersLeague},
	}},
	{"C4Config", configSize, []memberDef{
		{"General", configGeneral}, {"Network", 0x400},
	}},
	{"C4ConfigGeneral", 0x400, []memberDef{
		{"Language", 0x00}, {"AllowScriptingInReplays", generalReplay},
	}},
	{"C4AulError", aulErrorSize, []memberDef{
		{"sMessage", aulErrorMessage},
	}},
}
