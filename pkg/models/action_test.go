package models

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeAction_Variants(t *testing.T) {
	tests := []struct {
		name string
		data string
		want ActionType
	}{
		{
			name: "send_message",
			data: `{"type":"send_message","channel":"email","template":"welcome"}`,
			want: ActionTypeSendMessage,
		},
		{
			name: "apply_discount",
			data: `{"type":"apply_discount","kind":"percentage","value":15,"code":"WB15"}`,
			want: ActionTypeApplyDiscount,
		},
		{
			name: "issue_gift",
			data: `{"type":"issue_gift","kind":"credit","value":5}`,
			want: ActionTypeIssueGift,
		},
		{
			name: "create_task",
			data: `{"type":"create_task","title":"Call high-value lead"}`,
			want: ActionTypeCreateTask,
		},
		{
			name: "add_tag",
			data: `{"type":"add_tag","tag":"vip"}`,
			want: ActionTypeAddTag,
		},
		{
			name: "update_subject",
			data: `{"type":"update_subject","fields":{"lifecycle":"customer"}}`,
			want: ActionTypeUpdateSubject,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			action, err := DecodeAction([]byte(tt.data))
			require.NoError(t, err)
			assert.Equal(t, tt.want, action.Kind())
			assert.NoError(t, action.Validate())
		})
	}
}

func TestDecodeAction_UnknownType(t *testing.T) {
	_, err := DecodeAction([]byte(`{"type":"launch_rocket"}`))

	assert.ErrorIs(t, err, ErrUnknownActionType)
}

func TestActionSpec_RoundTrip(t *testing.T) {
	spec := ActionSpec{Action: &ApplyDiscount{
		DiscountKind: "fixed",
		Value:        25,
		Code:         "SAVE25",
		ExpiresIn:    Duration(72 * time.Hour),
	}}

	data, err := json.Marshal(spec)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"type":"apply_discount"`)

	var decoded ActionSpec
	require.NoError(t, json.Unmarshal(data, &decoded))

	discount, ok := decoded.Action.(*ApplyDiscount)
	require.True(t, ok)
	assert.Equal(t, "SAVE25", discount.Code)
	assert.Equal(t, Duration(72*time.Hour), discount.ExpiresIn)
}

func TestAction_Validate(t *testing.T) {
	tests := []struct {
		name    string
		action  Action
		wantErr bool
	}{
		{name: "message without channel", action: &SendMessage{Template: "t"}, wantErr: true},
		{name: "message without content", action: &SendMessage{Channel: "sms"}, wantErr: true},
		{name: "discount with zero value", action: &ApplyDiscount{DiscountKind: "fixed"}, wantErr: true},
		{name: "discount with bad kind", action: &ApplyDiscount{DiscountKind: "bogo", Value: 1}, wantErr: true},
		{name: "gift without kind", action: &IssueGift{}, wantErr: true},
		{name: "task without title", action: &CreateTask{Assignee: "sales"}, wantErr: true},
		{name: "empty tag", action: &AddTag{}, wantErr: true},
		{name: "empty subject update", action: &UpdateSubject{}, wantErr: true},
		{name: "valid tag", action: &AddTag{Tag: "loyal"}, wantErr: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.action.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestDuration_UnmarshalJSON(t *testing.T) {
	var d Duration

	require.NoError(t, json.Unmarshal([]byte(`"48h"`), &d))
	assert.Equal(t, Duration(48*time.Hour), d)

	require.NoError(t, json.Unmarshal([]byte(`90`), &d))
	assert.Equal(t, Duration(90*time.Second), d)

	assert.Error(t, json.Unmarshal([]byte(`"soon"`), &d))
	assert.Error(t, json.Unmarshal([]byte(`true`), &d))
}
