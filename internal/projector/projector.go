// Package projector 实现 C4 现金流投影器：把一笔贷款、其危险率序列与
// 折现率，投影为按月的期望现金流序列与现值。
package projector

import (
	"fmt"
	"math"

	"github.com/wyfcoding/mortgage-kernel/internal/hazard"
	"github.com/wyfcoding/mortgage-kernel/internal/loan"
	"github.com/wyfcoding/mortgage-kernel/xerrors"
)

// Shock 是 C5 蒙特卡洛驱动注入的单月随机乘数；非随机模式下恒为 1。
type Shock struct {
	DefaultMult float64
	PrepayMult  float64
}

// MonthlyCashFlow 是单月、单次投影的现金流明细。
type MonthlyCashFlow struct {
	Month              int
	SurvivalProb       float64
	ScheduledPayment   float64
	ExpectedPayment    float64
	DelinquencyProb    float64
	DefaultProb        float64
	ExpectedLoss       float64
	ExpectedRecovery   float64
	ExpectedPrepayment float64
	ExpectedPrincipal  float64
	ServicingCost      float64
	NetCashFlow        float64
	DiscountFactor     float64
	PresentValue       float64
	Balance            float64
}

// Result 是单笔贷款单次投影的完整输出。
type Result struct {
	CashFlows   []MonthlyCashFlow
	PV          float64
	WALYears    float64
	FinalBalance float64
}

// delinquencyState 按月追踪拖欠链上的概率质量，current 质量隐含为
// 1 - (dlq30+dlq60+dlq90) - 已流出的 default/prepaid 质量。
type delinquencyState struct {
	dlq30, dlq60, dlq90 float64
}

// Project 投影一笔贷款在给定危险率序列、场景与折现率下的月度现金流。
// hazards 的长度必须等于 l.RemainingTerm；shocks 若非 nil 必须同长。
func Project(l loan.Loan, hazards []hazard.MonthlyHazard, scenario loan.Scenario, cfg loan.SimulationConfig, shocks []Shock) (Result, error) {
	term := l.RemainingTerm
	if term <= 0 || l.UPB <= 0 {
		return Result{}, xerrors.ErrInvalidInput.Clone().WithDetail("remaining_term and upb must be positive")
	}
	if len(hazards) != term {
		return Result{}, xerrors.ErrInvalidInput.Clone().WithDetail(fmt.Sprintf("hazards length %d != remaining_term %d", len(hazards), term))
	}

	discountRate := cfg.DiscountRate
	if scenario.DiscountRate != nil {
		discountRate = *scenario.DiscountRate
	}
	monthlyDiscount := discountRate / 12

	payment := l.ScheduledPayment()
	monthlyRate := l.MonthlyRate()
	servicingMonthly := cfg.ServicingBps / 10000 / 12

	propertyValue, _ := l.EffectivePropertyValue()
	delay := foreclosureDelay(l.ForeclosureState)
	foreclosureQueue := make([]float64, delay)

	balance := l.UPB
	state := delinquencyState{}
	survival := 1.0 // current + dlq30 + dlq60 + dlq90, i.e. "still in the pool, not yet defaulted/prepaid"

	cashFlows := make([]MonthlyCashFlow, term)
	var pv, sumExpectedPrincipal, walNumerator float64

	for i := 0; i < term; i++ {
		month := i + 1
		h := hazards[i]

		defaultMult, prepayMult := 1.0, 1.0
		if shocks != nil {
			defaultMult, prepayMult = shocks[i].DefaultMult, shocks[i].PrepayMult
		}

		hDefaultRoll := clamp01(h.Default * defaultMult)
		hPrepay := clamp01(h.Prepay * prepayMult)

		current := survival - state.dlq30 - state.dlq60 - state.dlq90
		if current < 0 {
			current = 0
		}

		// step 1: from current, exit to prepaid or roll to delinquent30.
		hDeq := deqHazard(h.Default)
		exitingToPrepaid := current * hPrepay
		exitingToDlq30 := current * hDeq

		// step 2: delinquency chain cures and rolls.
		cureFrom30 := state.dlq30 * cureRate30
		rollFrom30 := state.dlq30 * rollRate30
		cureFrom60 := state.dlq60 * cureRate60
		rollFrom60 := state.dlq60 * rollRate60
		cureFrom90 := state.dlq90 * cureRate90
		rollFrom90ToDefault := state.dlq90 * hDefaultRoll

		newDlq30 := state.dlq30 - cureFrom30 - rollFrom30 + exitingToDlq30
		newDlq60 := state.dlq60 - cureFrom60 - rollFrom60 + rollFrom30
		newDlq90 := state.dlq90 - cureFrom90 - rollFrom90ToDefault + rollFrom60

		newDlq30 = clampMass(newDlq30)
		newDlq60 = clampMass(newDlq60)
		newDlq90 = clampMass(newDlq90)

		survivalAfter := survival - exitingToPrepaid - rollFrom90ToDefault
		if survivalAfter < 0 {
			survivalAfter = 0
		}

		// step 3: foreclosures maturing this month liquidate, emitting recovery.
		maturingMass := foreclosureQueue[0]
		copy(foreclosureQueue, foreclosureQueue[1:])
		foreclosureQueue[len(foreclosureQueue)-1] = rollFrom90ToDefault

		recoveryPerUnit := cfg.RecoveryRate*scenario.RecoveryMult*propertyValue - cfg.LiquidationCost*propertyValue
		if recoveryPerUnit < 0 {
			recoveryPerUnit = 0
		}
		expectedRecovery := maturingMass * recoveryPerUnit

		// amortisation on the expected (survival-weighted) balance.
		interest := balance * monthlyRate
		scheduledPrincipal := math.Min(payment-interest, balance)
		if scheduledPrincipal < 0 {
			scheduledPrincipal = 0
		}
		extraPrincipal := math.Min(h.ExtraPrincipal, balance-scheduledPrincipal)
		if extraPrincipal < 0 {
			extraPrincipal = 0
		}

		expectedPayment := survival * payment
		expectedPrincipal := survival * (scheduledPrincipal + extraPrincipal)
		expectedLoss := rollFrom90ToDefault * (1 - cfg.RecoveryRate*scenario.RecoveryMult) * balance
		expectedPrepayment := exitingToPrepaid * balance
		servicingCost := balance * servicingMonthly * survival

		netCF := expectedPayment + expectedPrepayment + expectedRecovery - expectedLoss - servicingCost
		discountFactor := 1 / math.Pow(1+monthlyDiscount, float64(month))
		presentValue := netCF * discountFactor

		balanceAfterScheduled := balance - scheduledPrincipal
		fullyPaidByExtraPrincipal := extraPrincipal > 0 && balanceAfterScheduled-extraPrincipal <= 1e-9
		balance = math.Max(balanceAfterScheduled-extraPrincipal, 0)
		if fullyPaidByExtraPrincipal {
			// the APEX2 extra-principal amount exceeded the remaining
			// balance; the loan is clamped to zero and exits to prepaid.
			survivalAfter = 0
		}

		cashFlows[i] = MonthlyCashFlow{
			Month:              month,
			SurvivalProb:       survivalAfter,
			ScheduledPayment:   payment,
			ExpectedPayment:    expectedPayment,
			DelinquencyProb:    newDlq30 + newDlq60 + newDlq90,
			DefaultProb:        rollFrom90ToDefault,
			ExpectedLoss:       expectedLoss,
			ExpectedRecovery:   expectedRecovery,
			ExpectedPrepayment: expectedPrepayment,
			ExpectedPrincipal:  expectedPrincipal,
			ServicingCost:      servicingCost,
			NetCashFlow:        netCF,
			DiscountFactor:     discountFactor,
			PresentValue:       presentValue,
			Balance:            balance,
		}

		pv += presentValue
		sumExpectedPrincipal += expectedPrincipal
		walNumerator += float64(month) * expectedPrincipal

		survival = survivalAfter
		state = delinquencyState{dlq30: newDlq30, dlq60: newDlq60, dlq90: newDlq90}

		if math.IsNaN(pv) || math.IsInf(pv, 0) {
			return Result{}, xerrors.ErrNumeric.Clone().WithContext("loan_id", l.ID).WithDetail("non-finite present value")
		}
	}

	wal := 0.0
	if sumExpectedPrincipal > 0 {
		wal = (walNumerator / sumExpectedPrincipal) / 12
	}

	return Result{
		CashFlows:    cashFlows,
		PV:           pv,
		WALYears:     wal,
		FinalBalance: balance,
	}, nil
}

// deqHazard derives the probability of rolling from current into early
// delinquency from the default hazard: going delinquent is materially more
// common than ultimately defaulting. The specification names this
// transition (§4.4) but does not quantify it; this scaling is a fixed
// design constant, like the cure/roll constants in states.go.
func deqHazard(hDefault float64) float64 {
	return clamp01(hDefault * 6)
}

func clamp01(x float64) float64 {
	if x < 0 {
		return 0
	}
	if x > 1 {
		return 1
	}
	return x
}

func clampMass(x float64) float64 {
	if x < 0 {
		return 0
	}
	return x
}
