package subscription

import (
	"maps"

	"github.com/nao1215/casenotify/internal/dispatch"
	"github.com/nao1215/casenotify/internal/recipient"
	"github.com/nao1215/casenotify/pkg/event"
)

// 購読通知のテンプレートID。
const (
	TemplateSupportUpdated          = "NM01_SUPPORT_UPDATED"
	TemplateProgressUpdateCreated   = "NM02_PROGRESS_UPDATE_CREATED"
	TemplateInnovationRecordUpdated = "NM03_INNOVATION_RECORD_UPDATED"
	TemplateDocumentUploaded        = "NM04_DOCUMENT_UPLOADED"
	TemplateReminder                = "NM05_REMINDER"
	TemplateGeneric                 = "NM00_EVENT"
)

type projectionInput struct {
	sub        Subscription
	ev         event.Event
	innovation recipient.Innovation
	identity   recipient.Identity
	links      dispatch.Links
}

// projection は購読通知1件分の内容。
type projection struct {
	templateID string
	inApp      map[string]any
	email      map[string]any
}

type projector func(in projectionInput) projection

// projectors はイベント種別ごとの通知内容の組み立て。
var projectors = map[event.Type]projector{
	event.TypeSupportUpdated:          projectSupportUpdated,
	event.TypeProgressUpdateCreated:   projectProgressUpdateCreated,
	event.TypeInnovationRecordUpdated: projectInnovationRecordUpdated,
	event.TypeDocumentUploaded:        projectDocumentUploaded,
	event.TypeReminder:                projectReminder,
}

func project(in projectionInput) projection {
	p, ok := projectors[in.ev.Type]
	if !ok {
		p = projectGeneric
	}
	out := p(in)
	out.email["displayName"] = in.identity.DisplayName
	out.email["notificationPreferencesUrl"] = in.links.NotificationPreferences()
	return out
}

func projectSupportUpdated(in projectionInput) projection {
	unitID := in.ev.Params.String("unitId")
	inApp := map[string]any{
		"innovationName": in.innovation.Name,
		"unitName":       in.ev.Params.String("unitName"),
		"status":         defaultLabels.supportStatus(in.ev.Params.String("status")),
		"unitId":         unitID,
	}
	email := maps.Clone(inApp)
	email["supportUrl"] = in.links.Support(in.ev.InnovationID, unitID)
	return projection{templateID: TemplateSupportUpdated, inApp: inApp, email: email}
}

func projectProgressUpdateCreated(in projectionInput) projection {
	inApp := map[string]any{
		"innovationName": in.innovation.Name,
		"unitName":       in.ev.Params.String("unitName"),
		"unitId":         in.ev.Params.String("unitId"),
	}
	email := maps.Clone(inApp)
	email["progressUrl"] = in.links.Support(in.ev.InnovationID, in.ev.Params.String("unitId"))
	return projection{templateID: TemplateProgressUpdateCreated, inApp: inApp, email: email}
}

func projectInnovationRecordUpdated(in projectionInput) projection {
	inApp := map[string]any{
		"innovationName": in.innovation.Name,
		"section":        in.ev.Params.String("section"),
	}
	email := maps.Clone(inApp)
	email["recordUrl"] = in.links.Record(in.ev.InnovationID)
	return projection{templateID: TemplateInnovationRecordUpdated, inApp: inApp, email: email}
}

func projectDocumentUploaded(in projectionInput) projection {
	inApp := map[string]any{
		"innovationName": in.innovation.Name,
		"documentName":   in.ev.Params.String("documentName"),
		"documentId":     in.ev.Params.String("documentId"),
	}
	email := maps.Clone(inApp)
	email["documentsUrl"] = in.links.Documents(in.ev.InnovationID)
	return projection{templateID: TemplateDocumentUploaded, inApp: inApp, email: email}
}

func projectReminder(in projectionInput) projection {
	inApp := map[string]any{
		"innovationName": in.innovation.Name,
		"message":        in.ev.Params.String("message"),
		"date":           in.ev.Params.String("date"),
	}
	email := maps.Clone(inApp)
	email["innovationUrl"] = in.links.Innovation(in.ev.InnovationID)
	return projection{templateID: TemplateReminder, inApp: inApp, email: email}
}

func projectGeneric(in projectionInput) projection {
	inApp := map[string]any{
		"innovationName": in.innovation.Name,
		"eventType":      string(in.ev.Type),
	}
	email := maps.Clone(inApp)
	email["innovationUrl"] = in.links.Innovation(in.ev.InnovationID)
	return projection{templateID: TemplateGeneric, inApp: inApp, email: email}
}
