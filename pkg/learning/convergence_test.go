package learning_test

import (
	"context"
	"testing"

	"github.com/absmach/fedsim/pkg/baselines"
	"github.com/absmach/fedsim/pkg/baselines/emnist"
	"github.com/absmach/fedsim/pkg/learning"
	"github.com/absmach/fedsim/pkg/nn"
	"github.com/absmach/fedsim/pkg/optimizer"
	"github.com/absmach/fedsim/pkg/sampler"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/stat"
)

const (
	convergenceRounds  = 200
	clientsPerRound    = 10
	convergenceWindow  = 10
	maxConvergenceLoss = 0.15
	minConvergenceAcc  = 0.95
)

func TestFederatedAveragingConverges(t *testing.T) {
	if testing.Short() {
		t.Skip("trains for 200 rounds")
	}
	t.Parallel()

	cases := []struct {
		name   string
		client optimizer.Fn
	}{
		{"sgd", func() optimizer.Optimizer { return optimizer.SGD(0.1) }},
		{"sgdm", func() optimizer.Optimizer { return optimizer.SGDM(0.05, 0.5) }},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			t.Parallel()
			ctx := context.Background()

			task, err := emnist.CreateDigitRecognitionTask(
				baselines.MustClientSpec(1, 10, baselines.Unbounded, 0),
				emnist.WithModelID(emnist.TwoNN),
				emnist.WithOnlyDigits(true),
				emnist.WithSyntheticData(true),
			)
			require.NoError(t, err)

			p, err := learning.BuildFederatedAveragingProcess(task.ModelFn, c.client, learning.WithLogger(logger))
			require.NoError(t, err)
			state, err := p.Initialize()
			require.NoError(t, err)

			s := sampler.New(0)
			var losses, accs []float64
			for round := range convergenceRounds {
				ids, ds, err := task.Datasets.SampleTrainClients(ctx, s, round, clientsPerRound)
				require.NoError(t, err)

				var metrics learning.Metrics
				state, metrics, err = p.Next(ctx, state, learning.NewClients(ids, ds))
				require.NoError(t, err)
				losses = append(losses, metrics[learning.GroupTrain][learning.MetricLoss])
				accs = append(accs, metrics[learning.GroupTrain][nn.MetricAccuracy])
			}

			loss := stat.Mean(losses[len(losses)-convergenceWindow:], nil)
			acc := stat.Mean(accs[len(accs)-convergenceWindow:], nil)
			assert.LessOrEqual(t, loss, maxConvergenceLoss, "mean loss over the last %d rounds", convergenceWindow)
			assert.Greater(t, acc, minConvergenceAcc, "mean accuracy over the last %d rounds", convergenceWindow)
			assert.Less(t, loss, losses[0])
		})
	}
}
