package model

// Progress возвращает round(100 * утверждённые / все этапы), 0 при отсутствии этапов.
// Половина округляется вверх.
func Progress(milestones []Milestone) int {
	total := len(milestones)
	if total == 0 {
		return 0
	}
	approved := 0
	for _, m := range milestones {
		if m.Status == MilestoneStatusApproved {
			approved++
		}
	}
	return (200*approved + total) / (2 * total)
}

// RecomputeProgress обновляет прогресс заказа по текущим этапам.
func (o *Order) RecomputeProgress() {
	o.Progress = Progress(o.Milestones)
}
