package protocol

// MessageType values as per OCPP-J.
const (
	MessageTypeCall       = 2
	MessageTypeCallResult = 3
	MessageTypeCallError  = 4
)

// Actions handled from charge points.
const (
	ActionBootNotification   = "BootNotification"
	ActionHeartbeat          = "Heartbeat"
	ActionAuthorize          = "Authorize"
	ActionStatusNotification = "StatusNotification"
	ActionStartTransaction   = "StartTransaction"
	ActionStopTransaction    = "StopTransaction"
	ActionMeterValues        = "MeterValues"
)

// Actions sent to charge points.
const (
	ActionRemoteStopTransaction  = "RemoteStopTransaction"
	ActionRemoteStartTransaction = "RemoteStartTransaction"
	ActionReset                  = "Reset"
	ActionUnlockConnector        = "UnlockConnector"
	ActionChangeAvailability     = "ChangeAvailability"
	ActionTriggerMessage         = "TriggerMessage"
)

// Registration status values.
const (
	RegistrationAccepted = "Accepted"
	RegistrationRejected = "Rejected"
)

// IdTagInfo status values.
const (
	AuthorizationAccepted = "Accepted"
	AuthorizationBlocked  = "Blocked"
	AuthorizationInvalid  = "Invalid"
)

// StatusNotification status values (subset).
const (
	ConnectorAvailable   = "Available"
	ConnectorPreparing   = "Preparing"
	ConnectorCharging    = "Charging"
	ConnectorOccupied    = "Occupied"
	ConnectorFinishing   = "Finishing"
	ConnectorUnavailable = "Unavailable"
	ConnectorFaulted     = "Faulted"
	ConnectorReserved    = "Reserved"
)

// MeasurandEnergyImportRegister is the only sampled value the billing path consumes.
const MeasurandEnergyImportRegister = "Energy.Active.Import.Register"
