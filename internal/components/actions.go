package components

import (
	"context"
	"fmt"

	"github.com/sinapsi/sinapsi-core/internal/engine"
)

// Action component names.
const (
	ActionLog                   = "ACTION_LOG"
	ActionSimpleNotification    = "ACTION_SIMPLE_NOTIFICATION"
	ActionSetVariable           = "ACTION_SET_VARIABLE"
	ActionSendSMS               = "ACTION_SEND_SMS"
	ActionWifiState             = "ACTION_WIFI_STATE"
	ActionContinueConfirmDialog = "ACTION_CONTINUE_CONFIRM_DIALOG"
	ActionStringInputDialog     = "ACTION_STRING_INPUT_DIALOG"
)

var scopeChoices = []string{string(engine.ScopeLocal), string(engine.ScopeGlobal)}

func actionRegistrations() []engine.ComponentRegistration {
	return []engine.ComponentRegistration{
		{
			Kind:       engine.KindAction,
			Name:       ActionLog,
			MinVersion: 1,
			Requires:   engine.CapabilityLog,
			Formal:     []engine.FormalParameter{{Name: "log_message", Type: engine.ParamString}},
			NewAction: func(p engine.Params, device int) (engine.Action, error) {
				return &logAction{engine.NewComponentBase(ActionLog, p, device)}, nil
			},
		},
		{
			Kind:       engine.KindAction,
			Name:       ActionSimpleNotification,
			MinVersion: 1,
			Requires:   engine.CapabilityNotification,
			Formal: []engine.FormalParameter{
				{Name: "notification_title", Type: engine.ParamString},
				{Name: "notification_message", Type: engine.ParamString, Optional: true},
			},
			NewAction: func(p engine.Params, device int) (engine.Action, error) {
				return &notificationAction{engine.NewComponentBase(ActionSimpleNotification, p, device)}, nil
			},
		},
		{
			Kind:       engine.KindAction,
			Name:       ActionSetVariable,
			MinVersion: 1,
			Formal: []engine.FormalParameter{
				{Name: "var_name", Type: engine.ParamString},
				{Name: "var_scope", Type: engine.ParamChoice, Optional: true, Choices: scopeChoices},
				{Name: "var_type", Type: engine.ParamChoice, Optional: true, Choices: []string{
					string(engine.TypeString), string(engine.TypeNumber), string(engine.TypeBool),
				}},
				{Name: "var_value", Type: engine.ParamString},
			},
			NewAction: func(p engine.Params, device int) (engine.Action, error) {
				return &setVariableAction{engine.NewComponentBase(ActionSetVariable, p, device)}, nil
			},
		},
		{
			Kind:       engine.KindAction,
			Name:       ActionSendSMS,
			MinVersion: 1,
			Requires:   engine.CapabilitySMS,
			Formal: []engine.FormalParameter{
				{Name: "number", Type: engine.ParamString},
				{Name: "msg", Type: engine.ParamString},
			},
			NewAction: func(p engine.Params, device int) (engine.Action, error) {
				return &sendSMSAction{engine.NewComponentBase(ActionSendSMS, p, device)}, nil
			},
		},
		{
			Kind:       engine.KindAction,
			Name:       ActionWifiState,
			MinVersion: 1,
			Requires:   engine.CapabilityWifi,
			Formal:     []engine.FormalParameter{{Name: "wifi_switch", Type: engine.ParamBool}},
			NewAction: func(p engine.Params, device int) (engine.Action, error) {
				return &wifiStateAction{engine.NewComponentBase(ActionWifiState, p, device)}, nil
			},
		},
		{
			Kind:       engine.KindAction,
			Name:       ActionContinueConfirmDialog,
			MinVersion: 1,
			Requires:   engine.CapabilityDialogs,
			Formal: []engine.FormalParameter{
				{Name: "dialog_title", Type: engine.ParamString},
				{Name: "dialog_message", Type: engine.ParamString, Optional: true},
			},
			NewAction: func(p engine.Params, device int) (engine.Action, error) {
				return &confirmDialogAction{engine.NewComponentBase(ActionContinueConfirmDialog, p, device)}, nil
			},
		},
		{
			Kind:       engine.KindAction,
			Name:       ActionStringInputDialog,
			MinVersion: 1,
			Requires:   engine.CapabilityDialogs,
			Formal: []engine.FormalParameter{
				{Name: "dialog_title", Type: engine.ParamString},
				{Name: "dialog_message", Type: engine.ParamString, Optional: true},
				{Name: "var_name", Type: engine.ParamString},
				{Name: "var_scope", Type: engine.ParamChoice, Optional: true, Choices: scopeChoices},
			},
			NewAction: func(p engine.Params, device int) (engine.Action, error) {
				return &stringInputDialogAction{engine.NewComponentBase(ActionStringInputDialog, p, device)}, nil
			},
		},
	}
}

type logAction struct{ engine.ComponentBase }

func (a *logAction) Activate(_ context.Context, ex *engine.ExecutionInterface, p engine.Params) error {
	sink, err := ex.Facade().Log()
	if err != nil {
		return err
	}
	sink.Log(ex.Macro().Name, p.String("log_message"))
	return nil
}

type notificationParams struct {
	Title   string `mapstructure:"notification_title"`
	Message string `mapstructure:"notification_message"`
}

type notificationAction struct{ engine.ComponentBase }

func (a *notificationAction) Activate(ctx context.Context, ex *engine.ExecutionInterface, p engine.Params) error {
	var np notificationParams
	if err := engine.DecodeParams(p, &np); err != nil {
		return err
	}
	n, err := ex.Facade().Notifications()
	if err != nil {
		return err
	}
	return n.Notify(ctx, np.Title, np.Message)
}

type setVariableAction struct{ engine.ComponentBase }

// Activate reads var_value unresolved so the old value of the variable
// being assigned is read under its lock.
func (a *setVariableAction) Activate(_ context.Context, ex *engine.ExecutionInterface, p engine.Params) error {
	scope, err := engine.ParseScope(p.String("var_scope"))
	if err != nil {
		return err
	}
	varType, err := engine.ParseVarType(p.String("var_type"))
	if err != nil {
		return err
	}
	return ex.AssignVariable(scope, p.String("var_name"), varType, a.Params().String("var_value"))
}

type sendSMSAction struct{ engine.ComponentBase }

func (a *sendSMSAction) Activate(ctx context.Context, ex *engine.ExecutionInterface, p engine.Params) error {
	sms, err := ex.Facade().SMS()
	if err != nil {
		return err
	}
	number := p.String("number")
	if number == "" {
		return fmt.Errorf("%w: empty number", engine.ErrInvalidParameters)
	}
	return sms.Send(ctx, number, p.String("msg"))
}

type wifiStateAction struct{ engine.ComponentBase }

func (a *wifiStateAction) Activate(ctx context.Context, ex *engine.ExecutionInterface, p engine.Params) error {
	var wp struct {
		On bool `mapstructure:"wifi_switch"`
	}
	if err := engine.DecodeParams(p, &wp); err != nil {
		return err
	}
	wifi, err := ex.Facade().Wifi()
	if err != nil {
		return err
	}
	return wifi.SetEnabled(ctx, wp.On)
}

// confirmDialogAction suspends the run until the user answers. A negative
// answer ends the run as COMPLETED.
type confirmDialogAction struct{ engine.ComponentBase }

func (a *confirmDialogAction) Activate(ctx context.Context, ex *engine.ExecutionInterface, p engine.Params) error {
	dialogs, err := ex.Facade().Dialogs()
	if err != nil {
		return err
	}
	if err := ex.AwaitUserInput(); err != nil {
		return err
	}
	ctx = context.WithoutCancel(ctx)
	prompt := ex.Prompt(p.String("dialog_title"), p.String("dialog_message"))
	dialogs.Confirm(ctx, prompt, func(confirmed bool) {
		var err error
		if confirmed {
			err = ex.ResumeAfterInput(ctx)
		} else {
			err = ex.StopAfterInput()
		}
		if err != nil {
			ex.Logger().Warn("dialog answer not applied", "execution_id", ex.ID(), "error", err)
		}
	})
	return nil
}

// stringInputDialogAction asks the user for text and stores it as a STRING
// variable before continuing. Cancelling ends the run as COMPLETED.
type stringInputDialogAction struct{ engine.ComponentBase }

func (a *stringInputDialogAction) Activate(ctx context.Context, ex *engine.ExecutionInterface, p engine.Params) error {
	dialogs, err := ex.Facade().Dialogs()
	if err != nil {
		return err
	}
	scope, err := engine.ParseScope(p.String("var_scope"))
	if err != nil {
		return err
	}
	store := ex.Locals()
	if scope == engine.ScopeGlobal {
		store = ex.Globals()
	}
	name := p.String("var_name")

	if err := ex.AwaitUserInput(); err != nil {
		return err
	}
	ctx = context.WithoutCancel(ctx)
	prompt := ex.Prompt(p.String("dialog_title"), p.String("dialog_message"))
	dialogs.AskString(ctx, prompt, func(value string, ok bool) {
		var err error
		if ok {
			if err = store.Set(name, engine.TypeString, value); err != nil {
				ex.Logger().Warn("storing dialog answer failed", "execution_id", ex.ID(), "var_name", name, "error", err)
				ok = false
			}
		}
		if ok {
			err = ex.ResumeAfterInput(ctx)
		} else {
			err = ex.StopAfterInput()
		}
		if err != nil {
			ex.Logger().Warn("dialog answer not applied", "execution_id", ex.ID(), "error", err)
		}
	})
	return nil
}
