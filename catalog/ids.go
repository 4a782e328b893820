package catalog

import "github.com/c360/qmiloc/message"

// Message IDs of the v02 Location Service catalog used by this module.
const (
	IDGetSupportedMsgs          message.ID = 0x001E
	IDGetSupportedFields        message.ID = 0x001F
	IDInformClientRevision      message.ID = 0x0020
	IDRegEvents                 message.ID = 0x0021
	IDStart                     message.ID = 0x0022
	IDStop                      message.ID = 0x0023
	IDPositionReport            message.ID = 0x0024
	IDGnssSvInfo                message.ID = 0x0025
	IDNMEA                      message.ID = 0x0026
	IDNiNotifyVerifyReq         message.ID = 0x0027
	IDInjectTimeReq             message.ID = 0x0028
	IDInjectPredictedOrbitsReq  message.ID = 0x0029
	IDInjectPositionReq         message.ID = 0x002A
	IDEngineState               message.ID = 0x002B
	IDFixSessionState           message.ID = 0x002C
	IDNiGeofenceNotification    message.ID = 0x0032
	IDGeofenceGenAlert          message.ID = 0x0033
	IDGeofenceBreach            message.ID = 0x0034
	IDGetServiceRevision        message.ID = 0x0035
	IDGetFixCriteria            message.ID = 0x0036
	IDNiUserResponse            message.ID = 0x0037
	IDInjectPredictedOrbitsData message.ID = 0x0038
	IDInjectUTCTime             message.ID = 0x003B
	IDInjectPosition            message.ID = 0x003C
	IDDeleteAssistData          message.ID = 0x0047
	IDGetRegisteredEvents       message.ID = 0x004C
	IDAddCircularGeofence       message.ID = 0x0063
	IDDeleteGeofence            message.ID = 0x0064
	IDQueryGeofence             message.ID = 0x0065
	IDEditGeofence              message.ID = 0x0066
	IDGetBatchSize              message.ID = 0x0074
	IDStartBatching             message.ID = 0x0075
	IDBatchFull                 message.ID = 0x0076
	IDLiveBatchedPositionReport message.ID = 0x0077
	IDReadFromBatch             message.ID = 0x0078
	IDStopBatching              message.ID = 0x0079
	IDReleaseBatch              message.ID = 0x007A
	IDGeofenceBatchedBreach     message.ID = 0x007F
	IDAddGeofenceContext        message.ID = 0x0088
	IDGeofenceProximity         message.ID = 0x008B
	IDGdtUploadBeginStatus      message.ID = 0x0090
	IDGdtUploadEnd              message.ID = 0x0091
)

// Bounds of the stable ID range.
const (
	MinID message.ID = 0x001E
	MaxID message.ID = 0x0091
)
