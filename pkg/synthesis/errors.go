package synthesis

import (
	"errors"

	"github.com/lifeops/lifeops/pkg/model"
)

// errJoin tags err with model.ErrSynthesisParse while keeping it reachable through errors.Is
func errJoin(err error) error {
	return errors.Join(model.ErrSynthesisParse, err)
}
