package driven

import "github.com/ericfisherdev/spacewake/internal/domain/model"

// CampaignRecorder observes finished wake campaigns and control actions.
type CampaignRecorder interface {
	RecordCampaign(result model.WakeResult)
	RecordAction(action string, err error)
}
