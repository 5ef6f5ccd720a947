package monitor

import "sitewatch/internal/domain"

// Decide reports whether r is a health-class transition from prev.
// Classes are {Up} and everything else. With no previous outcome only an
// unhealthy result alerts.
func Decide(prev *domain.Outcome, r domain.CheckResult) (Alert, bool) {
	a := Alert{
		OwnerID:    r.OwnerID,
		URL:        r.URL,
		Outcome:    r.Outcome,
		Timestamp:  r.Timestamp,
		HTTPStatus: r.HTTPStatus,
		ErrorKind:  r.ErrorKind,
		CertIssuer: r.CertIssuer,
	}
	if prev == nil {
		return a, !r.Outcome.Healthy()
	}
	a.Previous = *prev
	if prev.Healthy() == r.Outcome.Healthy() {
		return Alert{}, false
	}
	a.Recovered = r.Outcome.Healthy()
	return a, true
}

// healthOutcome folds the certificate channel into the HTTP outcome when
// certificate failures are configured to count.
func healthOutcome(httpOutcome domain.Outcome, certErr domain.CertErrKind, certAffects bool) domain.Outcome {
	if certAffects && httpOutcome == domain.OutcomeUp && certErr != domain.CertErrNone {
		return domain.OutcomeCertificate
	}
	return httpOutcome
}
