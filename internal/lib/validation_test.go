package lib

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trobanga/gdmclip/internal/models"
)

func TestValidateStatePrerequisites(t *testing.T) {
	tests := []struct {
		name    string
		current models.JobState
		next    models.JobState
		wantErr bool
	}{
		{"resolve from pending", models.JobStatePending, models.JobStateParamsResolved, false},
		{"skip output init", models.JobStateParamsResolved, models.JobStateProjectCloned, true},
		{"clip before mask", models.JobStateProjectCloned, models.JobStateLayerProcessing, true},
		{"package without layers", models.JobStateMaskComputed, models.JobStatePackaged, false},
		{"done before packaged", models.JobStateLayerProcessing, models.JobStateDone, true},
		{"cancelled after packaged", models.JobStatePackaged, models.JobStateCancelled, false},
		{"failed from anywhere", models.JobStateOutputInitialized, models.JobStateFailed, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			job := models.ClipJob{State: tt.current}
			err := ValidateStatePrerequisites(job, tt.next)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, IsKind(err, KindStatePrerequisiteNotMet))
				assert.False(t, CanEnterState(job, tt.next))
				return
			}
			assert.NoError(t, err)
			assert.True(t, CanEnterState(job, tt.next))
		})
	}
}
